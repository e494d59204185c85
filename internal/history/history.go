// Package history persists maintenance runs and their phase outcomes in a
// local SQLite database, so an operator can audit what past runs did without
// digging through logs.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"usm-go/internal/history/migrations"
	"usm-go/internal/usm"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Run is one recorded maintenance run.
type Run struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Operation  string
	Parameters string
	Status     string // "running", "success", "warning" or "error"
}

// PhaseRecord is one persisted phase outcome.
type PhaseRecord struct {
	RunID  int64
	Phase  string
	Status string
	Counts map[string]int64
	Detail string
}

// DB is the run-history database.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens the run-history database at path, creating and migrating it as
// needed. path can be ":memory:" for tests.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection to :memory: is its own database; pin the
		// pool to one connection so the migrated schema stays visible.
		db.SetMaxOpenConns(1)
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history database: %w", err)
	}
	return &DB{db: db, path: path}, nil
}

// CreateRun records the start of a maintenance run.
func (h *DB) CreateRun(ctx context.Context, operation, parameters string, startedAt time.Time) (*Run, error) {
	res, err := h.db.ExecContext(ctx, `
		INSERT INTO maintenance_runs (started_at, operation, parameters, status)
		VALUES (?, ?, ?, 'running')`, startedAt, operation, parameters)
	if err != nil {
		return nil, fmt.Errorf("creating run record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Run{ID: id, StartedAt: startedAt, Operation: operation, Parameters: parameters, Status: "running"}, nil
}

// FinishRun stamps a run's final status and finish time.
func (h *DB) FinishRun(ctx context.Context, id int64, status string, finishedAt time.Time) error {
	_, err := h.db.ExecContext(ctx, `
		UPDATE maintenance_runs SET finished_at = ?, status = ? WHERE id = ?`,
		finishedAt, status, id)
	if err != nil {
		return fmt.Errorf("finishing run record: %w", err)
	}
	return nil
}

// RecordPhase persists one phase result under a run.
func (h *DB) RecordPhase(ctx context.Context, runID int64, phase usm.PhaseResult) error {
	counts, err := json.Marshal(phase.Counts)
	if err != nil {
		return fmt.Errorf("encoding phase counts: %w", err)
	}
	detail := ""
	if phase.Err != nil {
		detail = phase.Err.Error()
	} else if len(phase.Warnings) > 0 {
		detail = phase.Warnings[0]
	}

	_, err = h.db.ExecContext(ctx, `
		INSERT INTO phase_results (run_id, phase, status, counts, detail)
		VALUES (?, ?, ?, ?, ?)`,
		runID, phase.Phase, string(phase.Status), string(counts), detail)
	if err != nil {
		return fmt.Errorf("recording phase result: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (h *DB) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, operation, parameters, status
		FROM maintenance_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Operation, &r.Parameters, &r.Status); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// RunPhases returns the phase results recorded for a run, in insertion order.
func (h *DB) RunPhases(ctx context.Context, runID int64) ([]*PhaseRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT run_id, phase, status, counts, detail
		FROM phase_results WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing phase results: %w", err)
	}
	defer rows.Close()

	var phases []*PhaseRecord
	for rows.Next() {
		var p PhaseRecord
		var counts string
		if err := rows.Scan(&p.RunID, &p.Phase, &p.Status, &counts, &p.Detail); err != nil {
			return nil, fmt.Errorf("scanning phase result: %w", err)
		}
		if err := json.Unmarshal([]byte(counts), &p.Counts); err != nil {
			return nil, fmt.Errorf("decoding phase counts: %w", err)
		}
		phases = append(phases, &p)
	}
	return phases, rows.Err()
}

// Close closes the history database.
func (h *DB) Close() error {
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}
