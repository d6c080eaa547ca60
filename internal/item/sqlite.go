package item

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore keeps item values as JSON in the item_values table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on an opened database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save upserts the value for an item.
func (s *SQLiteStore) Save(name string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO item_values (name, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, name, string(data), time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to store value: %w", err)
	}
	return nil
}

// Load returns the stored value for an item. ok is false when nothing is stored.
func (s *SQLiteStore) Load(name string) (any, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM item_values WHERE name = ?`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get value: %w", err)
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return value, true, nil
}

// Clear removes every stored value.
func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM item_values`); err != nil {
		return fmt.Errorf("failed to clear values: %w", err)
	}
	return nil
}
