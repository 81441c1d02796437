// Package db provides the SQLite connection and schema for kindtally run history.
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
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
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
	// One row per completed collection window
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tally_runs (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			window_ms INTEGER NOT NULL,
			elapsed_ms INTEGER NOT NULL,
			relays TEXT NOT NULL,
			total INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tally_runs_started ON tally_runs(started_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to create tally_runs table: %w", err)
	}

	// Per-kind counts of a run
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS tally_counts (
			run_id TEXT NOT NULL REFERENCES tally_runs(id) ON DELETE CASCADE,
			kind INTEGER NOT NULL,
			count INTEGER NOT NULL,
			PRIMARY KEY (run_id, kind)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create tally_counts table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
