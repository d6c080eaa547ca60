// Package db provides the SQLite connection and schema for huelink.
package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema. ":memory:" opens a
// private in-memory database.
func Open(dbPath string) (*DB, error) {
	dsn := dbPath + "?_journal_mode=WAL"
	if strings.HasPrefix(dbPath, ":memory:") {
		dsn = dbPath
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.HasPrefix(dbPath, ":memory:") {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

func initSchema(db *sql.DB) error {
	// Command ledger - append-only history of outbound bridge commands
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS command_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			command_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			item TEXT,
			resource_type TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			function TEXT,
			payload TEXT,
			error TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_command_ledger_outcome_ts ON command_ledger(outcome, timestamp);
		CREATE INDEX IF NOT EXISTS idx_command_ledger_resource ON command_ledger(resource_id, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create command_ledger table: %w", err)
	}

	// Item values - last value per item, restored at startup
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS item_values (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create item_values table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
