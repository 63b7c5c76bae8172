// Package history persists per-cell verdicts of past notebook runs so
// regressions can be traced over time. Storage is optional: the runner
// itself never depends on it.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nbcheck/nbcheck/internal/runner"
)

//go:embed schema.sql
var schemaSQL string

// Store is a SQLite-backed run-history log.
// Uses WAL mode for concurrent read access.
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database at path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// Idempotent: safe to call against an existing database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordRun persists a notebook report and returns the new run id.
// The write is transactional: either the run and all its cells land, or
// nothing does.
func (s *Store) RecordRun(ctx context.Context, report *runner.Report) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	passed, failed, errored, skipped := report.Counts()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (notebook, started_at, duration_ms, passed, failed, errored, skipped)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		report.Notebook,
		report.Started.UTC().Format(time.RFC3339Nano),
		report.Duration.Milliseconds(),
		passed, failed, errored, skipped,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("run id: %w", err)
	}

	for _, cell := range report.Cells {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cell_results (run_id, cell_index, state, reason, duration_ms)
			 VALUES (?, ?, ?, ?, ?)`,
			runID, cell.Index, string(cell.State), cell.Reason, cell.Duration.Milliseconds(),
		); err != nil {
			return 0, fmt.Errorf("insert cell %d: %w", cell.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return runID, nil
}

// RunSummary is one row of the run log.
type RunSummary struct {
	ID       int64         `json:"id"`
	Notebook string        `json:"notebook"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Errored  int           `json:"errored"`
	Skipped  int           `json:"skipped"`
}

// RecentRuns returns the most recent runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, notebook, started_at, duration_ms, passed, failed, errored, skipped
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var started string
		var durationMS int64
		if err := rows.Scan(&r.ID, &r.Notebook, &started, &durationMS,
			&r.Passed, &r.Failed, &r.Errored, &r.Skipped); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Started, err = time.Parse(time.RFC3339Nano, started)
		if err != nil {
			return nil, fmt.Errorf("parse started_at %q: %w", started, err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// CellRow is one persisted cell verdict.
type CellRow struct {
	Index    int           `json:"index"`
	State    string        `json:"state"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunCells returns the cell verdicts of one run, in cell order.
func (s *Store) RunCells(ctx context.Context, runID int64) ([]CellRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cell_index, state, reason, duration_ms
		 FROM cell_results WHERE run_id = ? ORDER BY cell_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query cells: %w", err)
	}
	defer rows.Close()

	var out []CellRow
	for rows.Next() {
		var c CellRow
		var durationMS int64
		if err := rows.Scan(&c.Index, &c.State, &c.Reason, &durationMS); err != nil {
			return nil, fmt.Errorf("scan cell: %w", err)
		}
		c.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, c)
	}
	return out, rows.Err()
}
