package ledger

import (
	"context"
	"fmt"
)

// RunRow is one row of the runs table.
type RunRow struct {
	ID          string
	StartedAt   string
	FinishedAt  string
	StartHeight uint64
	Blocks      uint64
	Step        uint64
	Processed   int
	Total       int
	Status      string
}

// BatchRow is one row of the batches table.
type BatchRow struct {
	ID             int64
	RunID          string
	Height         uint64
	Size           uint64
	Status         string
	ElapsedSeconds float64
	PeakRSSKB      *int64
}

// StepRow is one row of the steps table.
type StepRow struct {
	Name           string
	ExitCode       int
	ElapsedSeconds float64
	PeakRSSKB      *int64
}

// GetRun fetches one run by ID.
func (l *Ledger) GetRun(ctx context.Context, runID string) (RunRow, error) {
	var r RunRow
	var finished *string
	err := l.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, start_height, blocks, step, processed, total, status
		FROM runs WHERE id = ?`, runID).
		Scan(&r.ID, &r.StartedAt, &finished, &r.StartHeight, &r.Blocks, &r.Step, &r.Processed, &r.Total, &r.Status)
	if err != nil {
		return RunRow{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	if finished != nil {
		r.FinishedAt = *finished
	}
	return r, nil
}

// BatchesForRun returns the batches of one run in insertion order.
func (l *Ledger) BatchesForRun(ctx context.Context, runID string) ([]BatchRow, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, run_id, height, size, status, elapsed_seconds, peak_rss_kb
		FROM batches WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list batches for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []BatchRow
	for rows.Next() {
		var b BatchRow
		if err := rows.Scan(&b.ID, &b.RunID, &b.Height, &b.Size, &b.Status, &b.ElapsedSeconds, &b.PeakRSSKB); err != nil {
			return nil, fmt.Errorf("scan batch row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// StepsForBatch returns the recorded steps of one batch in pipeline order.
func (l *Ledger) StepsForBatch(ctx context.Context, batchID int64) ([]StepRow, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT name, exit_code, elapsed_seconds, peak_rss_kb
		FROM steps WHERE batch_id = ? ORDER BY id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list steps for batch %d: %w", batchID, err)
	}
	defer rows.Close()

	var out []StepRow
	for rows.Next() {
		var s StepRow
		if err := rows.Scan(&s.Name, &s.ExitCode, &s.ElapsedSeconds, &s.PeakRSSKB); err != nil {
			return nil, fmt.Errorf("scan step row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
