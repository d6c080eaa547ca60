// Package ledger keeps an append-only history of outbound bridge commands.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcome is what happened to a command.
type Outcome string

const (
	OutcomeSent     Outcome = "command_sent"
	OutcomeRejected Outcome = "command_rejected"
	OutcomeFailed   Outcome = "command_failed"
	OutcomeDropped  Outcome = "command_dropped"
)

// Entry is one ledger row.
type Entry struct {
	ID           int64     `json:"id"`
	CommandID    string    `json:"command_id"`
	Outcome      Outcome   `json:"outcome"`
	Timestamp    time.Time `json:"timestamp"`
	Item         string    `json:"item,omitempty"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Function     string    `json:"function,omitempty"`
	Payload      any       `json:"payload,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Ledger appends and queries command history.
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append stores e. A missing CommandID is generated.
func (l *Ledger) Append(e Entry) error {
	if e.CommandID == "" {
		e.CommandID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	var payloadJSON []byte
	if e.Payload != nil {
		var err error
		payloadJSON, err = json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err := l.db.Exec(`
		INSERT INTO command_ledger (command_id, outcome, timestamp, item, resource_type, resource_id, function, payload, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.CommandID, string(e.Outcome), e.Timestamp.UTC().UnixMilli(), e.Item, e.ResourceType, e.ResourceID, e.Function, string(payloadJSON), e.Error)
	return err
}

// Recent returns the newest entries first.
func (l *Ledger) Recent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, command_id, outcome, timestamp, item, resource_type, resource_id, function, payload, error
		FROM command_ledger
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// GetByOutcome returns entries with one outcome, newest first.
func (l *Ledger) GetByOutcome(outcome Outcome, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, command_id, outcome, timestamp, item, resource_type, resource_id, function, payload, error
		FROM command_ledger
		WHERE outcome = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(outcome), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().UnixMilli()
	result, err := l.db.Exec(`DELETE FROM command_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var outcome string
		var ts int64
		var item, function, payload, errText sql.NullString

		err := rows.Scan(
			&entry.ID, &entry.CommandID, &outcome, &ts, &item,
			&entry.ResourceType, &entry.ResourceID, &function, &payload, &errText,
		)
		if err != nil {
			return nil, err
		}

		entry.Outcome = Outcome(outcome)
		entry.Timestamp = time.UnixMilli(ts).UTC()
		entry.Item = item.String
		entry.Function = function.String
		entry.Error = errText.String

		if payload.Valid && payload.String != "" {
			var decoded any
			if err := json.Unmarshal([]byte(payload.String), &decoded); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
			entry.Payload = decoded
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
