package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/SeanMeir11/raito/internal/batch"
	"github.com/SeanMeir11/raito/internal/generator"
	"github.com/SeanMeir11/raito/internal/ledger"
	"github.com/SeanMeir11/raito/internal/step"
)

// DataGenerator produces the chain-state and block data for one batch.
type DataGenerator interface {
	Generate(ctx context.Context, height, numBlocks uint64) (generator.BatchInput, error)
}

// ArgumentBuilder produces the prover argument payload for one batch.
type ArgumentBuilder interface {
	Build(ctx context.Context, batchFile, previousProof string) ([]byte, error)
}

// PipelineDriver runs the three-stage pipeline for one batch.
type PipelineDriver interface {
	Run(ctx context.Context, executable string, paths batch.Paths) ([]step.Result, error)
}

// Engine composes chain resolution, data and argument generation, and
// the pipeline driver into a sequential run over a height range.
type Engine struct {
	Workspace *batch.Workspace
	Data      DataGenerator
	Args      ArgumentBuilder
	Pipeline  PipelineDriver

	// Executable is the compiled program handed to the execute stage.
	Executable string

	// RunID correlates log lines and ledger rows of one run.
	RunID string

	// Ledger is optional; nil disables run-history recording.
	Ledger *ledger.Ledger

	Log *zap.Logger
}

// Stats aggregates the outcome of one run.
type Stats struct {
	// Processed counts batches that completed successfully.
	Processed int

	// Total is the number of batches the range called for.
	Total int

	// Elapsed sums the pipeline step wall time across all batches.
	Elapsed time.Duration

	// MaxPeakRSSKB is the largest peak memory seen in any step, in
	// kilobytes. Zero when no step reported a measurement.
	MaxPeakRSSKB int64
}

// Run processes heights start, start+step, … while < start+blocks,
// strictly in order. The first failed batch stops the run; on full
// completion the processed count equals the total.
func (e *Engine) Run(ctx context.Context, start, blocks, stepSize uint64) Stats {
	log := e.Log.With(zap.String("run_id", e.RunID))

	log.Info("starting run",
		zap.Uint64("initial_height", start),
		zap.Uint64("blocks", blocks),
		zap.Uint64("step", stepSize))

	if err := e.Workspace.EnsureRoot(); err != nil {
		log.Error("failed to prepare proof root", zap.Error(err))
		return Stats{}
	}

	var heights []uint64
	for h := start; h < start+blocks; h += stepSize {
		heights = append(heights, h)
	}

	stats := Stats{Total: len(heights)}
	e.ledgerBeginRun(ctx, log, start, blocks, stepSize, stats.Total)

	for _, height := range heights {
		ok := e.processBatch(ctx, log, height, stepSize, &stats)
		if !ok {
			log.Info("job failed, stopping further processing", zap.Uint64("height", height))
			log.Info("run stopped",
				zap.Int("processed", stats.Processed),
				zap.Int("total", stats.Total))
			e.ledgerFinishRun(ctx, log, stats.Processed, "failed")
			return stats
		}
		stats.Processed++
	}

	log.Info("all jobs have been processed successfully", zap.Int("processed", stats.Processed))
	e.ledgerFinishRun(ctx, log, stats.Processed, "completed")
	return stats
}

// processBatch performs one unit of work: directory, predecessor proof,
// input record, argument file, pipeline. Returns true only when the
// pipeline's final step exited zero. Every failure on this path is
// logged here and converted to false — nothing propagates.
func (e *Engine) processBatch(ctx context.Context, log *zap.Logger, height, size uint64, stats *Stats) bool {
	job := log.With(zap.Uint64("height", height), zap.Uint64("blocks", size))
	job.Debug("proving batch")

	b := batch.Batch{Start: height, Size: size}

	paths, err := e.Workspace.Ensure(b)
	if err != nil {
		job.Error("failed to prepare batch directory", zap.Error(err))
		return false
	}

	previousProof, err := e.Workspace.PreviousProof(height)
	if err != nil {
		job.Error("failed to resolve previous proof", zap.Error(err))
		return false
	}

	job.Debug("generating data")
	input, err := e.Data.Generate(ctx, height, size)
	if err != nil {
		job.Error("data generation failed", zap.Error(err))
		return false
	}
	if err := writeBatchFile(paths.BatchFile, input); err != nil {
		job.Error("failed to persist batch input", zap.Error(err))
		return false
	}

	job.Debug("generating arguments", zap.String("previous_proof", previousProof))
	arguments, err := e.Args.Build(ctx, paths.BatchFile, previousProof)
	if err != nil {
		job.Error("argument generation failed", zap.Error(err))
		return false
	}
	if err := os.WriteFile(paths.ArgumentsFile, arguments, 0o644); err != nil {
		job.Error("failed to persist argument file", zap.Error(err))
		return false
	}

	results, err := e.Pipeline.Run(ctx, e.Executable, paths)
	if err != nil {
		job.Error("pipeline could not run", zap.Error(err))
		return false
	}
	if len(results) == 0 {
		job.Error("pipeline produced no step results")
		return false
	}

	totalElapsed, maxPeak := accumulate(results)
	stats.Elapsed += totalElapsed
	if maxPeak != nil && *maxPeak > stats.MaxPeakRSSKB {
		stats.MaxPeakRSSKB = *maxPeak
	}

	last := results[len(results)-1]
	if !last.Ok() {
		job.Error("batch failed",
			zap.String("step", string(last.Step)),
			zap.Int("exit_code", last.ExitCode),
			zap.String("output", firstNonEmpty(last.Stderr, last.Stdout)))
		e.ledgerRecordBatch(ctx, job, height, size, "failed", totalElapsed, maxPeak, results)
		return false
	}

	for _, res := range results {
		fields := []zap.Field{
			zap.String("step", string(res.Step)),
			zap.Float64("elapsed_s", round2(res.Elapsed.Seconds())),
		}
		if res.PeakRSSKB != nil {
			fields = append(fields, zap.Float64("max_memory_mb", round1(float64(*res.PeakRSSKB)/1024)))
		}
		job.Debug("step completed", fields...)
	}

	doneFields := []zap.Field{zap.Float64("total_elapsed_s", round2(totalElapsed.Seconds()))}
	if maxPeak != nil {
		doneFields = append(doneFields, zap.Float64("max_memory_mb", round1(float64(*maxPeak)/1024)))
	}
	job.Info("batch done", doneFields...)

	e.ledgerRecordBatch(ctx, job, height, size, "succeeded", totalElapsed, maxPeak, results)
	return true
}

// writeBatchFile persists the input record with two-space indentation.
// Only the chain_state and blocks members are kept.
func writeBatchFile(path string, input generator.BatchInput) error {
	data, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return fmt.Errorf("encode batch input: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// accumulate derives the run totals of one batch: summed wall time and
// the maximum peak memory among steps that reported one.
func accumulate(results []step.Result) (time.Duration, *int64) {
	var elapsed time.Duration
	var maxPeak *int64
	for _, res := range results {
		elapsed += res.Elapsed
		if res.PeakRSSKB != nil && (maxPeak == nil || *res.PeakRSSKB > *maxPeak) {
			v := *res.PeakRSSKB
			maxPeak = &v
		}
	}
	return elapsed, maxPeak
}

func (e *Engine) ledgerBeginRun(ctx context.Context, log *zap.Logger, start, blocks, stepSize uint64, total int) {
	if e.Ledger == nil {
		return
	}
	if err := e.Ledger.BeginRun(ctx, e.RunID, start, blocks, stepSize, total); err != nil {
		log.Warn("ledger write failed", zap.Error(err))
	}
}

func (e *Engine) ledgerFinishRun(ctx context.Context, log *zap.Logger, processed int, status string) {
	if e.Ledger == nil {
		return
	}
	if err := e.Ledger.FinishRun(ctx, e.RunID, processed, status); err != nil {
		log.Warn("ledger write failed", zap.Error(err))
	}
}

func (e *Engine) ledgerRecordBatch(ctx context.Context, log *zap.Logger, height, size uint64, status string, elapsed time.Duration, peak *int64, results []step.Result) {
	if e.Ledger == nil {
		return
	}
	if _, err := e.Ledger.RecordBatch(ctx, e.RunID, height, size, status, elapsed, peak, results); err != nil {
		log.Warn("ledger write failed", zap.Error(err))
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
