// Package ledger records run history in SQLite.
//
// The ledger exists for observability and ad-hoc inspection only. The
// running process writes to it; the resume locator and proof-chain
// resolver never read it — all cross-run decisions come from the
// filesystem layout. A ledger failure degrades to a warning and the
// run continues.
package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/SeanMeir11/raito/internal/step"
)

//go:embed schema.sql
var schemaSQL string

// Ledger provides durable storage for run history.
type Ledger struct {
	db *sql.DB
}

// Open creates or opens the ledger database at the given path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// BeginRun records the start of an orchestrator run.
func (l *Ledger) BeginRun(ctx context.Context, runID string, start, blocks, stepSize uint64, total int) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, start_height, blocks, step, total)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, time.Now().UTC().Format(time.RFC3339), start, blocks, stepSize, total)
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// FinishRun records the final outcome of a run.
func (l *Ledger) FinishRun(ctx context.Context, runID string, processed int, status string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, processed = ?, status = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), processed, status, runID)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	return nil
}

// RecordBatch records one batch outcome together with its per-step
// results, in a single transaction. Returns the batch row ID.
func (l *Ledger) RecordBatch(ctx context.Context, runID string, height, size uint64, status string, elapsed time.Duration, peakRSSKB *int64, steps []step.Result) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("record batch: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO batches (run_id, height, size, status, elapsed_seconds, peak_rss_kb, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, height, size, status, elapsed.Seconds(), nullableInt(peakRSSKB),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("record batch: %w", err)
	}
	batchID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record batch: %w", err)
	}

	for _, s := range steps {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO steps (batch_id, name, exit_code, elapsed_seconds, peak_rss_kb)
			VALUES (?, ?, ?, ?, ?)`,
			batchID, string(s.Step), s.ExitCode, s.Elapsed.Seconds(), nullableInt(s.PeakRSSKB))
		if err != nil {
			return 0, fmt.Errorf("record step %s: %w", s.Step, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("record batch: %w", err)
	}
	return batchID, nil
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
