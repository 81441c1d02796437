// Package history persists the snapshots of completed collection windows.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dokzlo13/kindtally/internal/tally"
)

// Run is one completed collection window
type Run struct {
	ID        string
	StartedAt time.Time
	Window    time.Duration
	Elapsed   time.Duration
	Relays    []string
	Total     uint64
	Counts    tally.Snapshot
}

// History stores runs in SQLite
type History struct {
	db *sql.DB
}

// New creates a new History using the provided database connection
func New(db *sql.DB) *History {
	return &History{db: db}
}

// Save stores run and its counts in one transaction. An empty ID is filled in.
func (h *History) Save(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	relaysJSON, err := json.Marshal(run.Relays)
	if err != nil {
		return fmt.Errorf("failed to marshal relays: %w", err)
	}

	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO tally_runs (id, started_at, window_ms, elapsed_ms, relays, total)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt.UTC().UnixMilli(), run.Window.Milliseconds(), run.Elapsed.Milliseconds(),
		string(relaysJSON), int64(run.Counts.Total()))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO tally_counts (run_id, kind, count) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare count insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range run.Counts {
		// Stored bit-for-bit as signed integers; SQLite has no unsigned 64-bit type
		if _, err := stmt.Exec(run.ID, int64(e.Kind), int64(e.Count)); err != nil {
			return fmt.Errorf("failed to insert count for kind %d: %w", e.Kind, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	run.Total = run.Counts.Total()
	return nil
}

// Recent returns up to limit runs, newest first, with their counts
func (h *History) Recent(limit int) ([]*Run, error) {
	rows, err := h.db.Query(`
		SELECT id, started_at, window_ms, elapsed_ms, relays, total
		FROM tally_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}

	runs, err := scanRuns(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	for _, run := range runs {
		if run.Counts, err = h.counts(run.ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// DeleteOlderThan removes runs older than the specified duration (retention policy)
func (h *History) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().UnixMilli()
	result, err := h.db.Exec(`DELETE FROM tally_runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (h *History) counts(runID string) (tally.Snapshot, error) {
	rows, err := h.db.Query(`
		SELECT kind, count FROM tally_counts WHERE run_id = ?
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snap tally.Snapshot
	for rows.Next() {
		var kind, count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		snap = append(snap, tally.Entry{Kind: uint64(kind), Count: uint64(count)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// ORDER BY on the signed column would misplace kinds with the high bit set
	snap.Sort()
	return snap, nil
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		var run Run
		var startedAt, windowMs, elapsedMs, total int64
		var relaysStr string

		if err := rows.Scan(&run.ID, &startedAt, &windowMs, &elapsedMs, &relaysStr, &total); err != nil {
			return nil, err
		}

		run.StartedAt = time.UnixMilli(startedAt).UTC()
		run.Window = time.Duration(windowMs) * time.Millisecond
		run.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		run.Total = uint64(total)

		if relaysStr != "" {
			if err := json.Unmarshal([]byte(relaysStr), &run.Relays); err != nil {
				return nil, fmt.Errorf("failed to unmarshal relays: %w", err)
			}
		}

		runs = append(runs, &run)
	}
	return runs, rows.Err()
}
