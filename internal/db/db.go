// Package db provides a centralized database connection and schema for heatd.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Compensation ledger - append-only history of applied setpoints,
	// write failures, recorded cycles and preheat events per room
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS compensation_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			room TEXT NOT NULL,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			payload TEXT,
			idempotency_key TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_type_ts ON compensation_ledger(event_type, timestamp);
		CREATE INDEX IF NOT EXISTS idx_ledger_room_ts ON compensation_ledger(room, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create compensation_ledger table: %w", err)
	}

	// Unique partial index for idempotency: only one row per key
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_idempotency
		ON compensation_ledger(idempotency_key)
		WHERE idempotency_key IS NOT NULL AND idempotency_key != '';
	`)
	if err != nil {
		return fmt.Errorf("failed to create idx_ledger_idempotency index: %w", err)
	}

	// Room state - generic JSON state store keyed by (kind, id); holds
	// learner state and last published snapshots across restarts
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS room_state (
			kind TEXT NOT NULL,
			id TEXT NOT NULL,
			payload TEXT NOT NULL,
			version INTEGER DEFAULT 1,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (kind, id)
		);
		CREATE INDEX IF NOT EXISTS idx_room_state_kind ON room_state(kind);
	`)
	if err != nil {
		return fmt.Errorf("failed to create room_state table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
