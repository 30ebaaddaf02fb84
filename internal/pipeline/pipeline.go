// Package pipeline drives the three-stage proving pipeline for one
// batch: execute → bootload → prove.
//
// Each stage is described as data (name, log name, argv) so the
// sequencing logic is independent of which concrete tools are plugged
// in. Stages run strictly in order, each gated on the previous exiting
// zero; the first failure stops the pipeline and later stages are
// never attempted. A durable per-step log is written after every
// attempted stage regardless of outcome.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/SeanMeir11/raito/internal/batch"
	"github.com/SeanMeir11/raito/internal/step"
)

// StepRunner launches one external process and reports its outcome.
type StepRunner interface {
	Run(ctx context.Context, argv []string, timeout time.Duration) (step.Result, error)
}

// Step describes one pipeline stage to run.
type Step struct {
	Name    step.Name
	LogName string
	Argv    []string
}

// Driver sequences the pipeline stages for one batch.
type Driver struct {
	Runner StepRunner

	// ProverParams is the fixed proving-parameters file passed to the
	// prover stage.
	ProverParams string

	// StepTimeout bounds each stage; zero disables the deadline.
	StepTimeout time.Duration

	Log *zap.Logger
}

// Run executes the pipeline for one batch and returns the results of
// every attempted stage, in order. A non-zero exit stops the pipeline
// with a partial result list and a nil error; a non-nil error means a
// stage could not be invoked at all.
//
// When all three stages succeed the intermediate artifacts (pie,
// prover input files, and any trace/memory files the private input
// references) are removed best-effort: deletion failures are logged
// as warnings and never fail the pipeline.
func (d *Driver) Run(ctx context.Context, executable string, paths batch.Paths) ([]step.Result, error) {
	steps := buildSteps(executable, d.ProverParams, paths)

	var results []step.Result
	for _, s := range steps {
		d.Log.Debug("running pipeline step",
			zap.String("step", string(s.Name)),
			zap.String("command", strings.Join(s.Argv, " ")))

		res, err := d.Runner.Run(ctx, s.Argv, d.StepTimeout)
		if err != nil {
			return results, fmt.Errorf("%s step: %w", s.Name, err)
		}
		res.Step = s.Name
		results = append(results, res)

		if logErr := step.WriteLog(paths.Dir, s.LogName, res, time.Now()); logErr != nil {
			d.Log.Warn("failed to write step log", zap.String("step", string(s.Name)), zap.Error(logErr))
		}

		if !res.Ok() {
			if s.Name == step.Bootload {
				d.Log.Error("bootload step failed",
					zap.Int("exit_code", res.ExitCode),
					zap.String("output", firstNonEmpty(res.Stdout, res.Stderr)))
			}
			return results, nil
		}
	}

	d.cleanup(paths)
	return results, nil
}

// buildSteps assembles the stage commands for one batch.
func buildSteps(executable, proverParams string, p batch.Paths) []Step {
	return []Step{
		{
			Name:    step.Execute,
			LogName: "pie",
			Argv: []string{
				"cairo-execute",
				"--layout", "all_cairo_stwo",
				"--args-file", p.ArgumentsFile,
				"--prebuilt",
				"--output-path", p.PieFile,
				executable,
			},
		},
		{
			Name:    step.Bootload,
			LogName: "bootload",
			Argv: []string{
				"stwo-bootloader",
				"--pie", p.PieFile,
				"--output-path", p.Dir,
			},
		},
		{
			Name:    step.Prove,
			LogName: "prove",
			Argv: []string{
				"adapted_stwo",
				"--priv_json", p.PrivFile,
				"--pub_json", p.PubFile,
				"--params_json", proverParams,
				"--proof_path", p.ProofFile,
				"--proof-format", "cairo-serde",
				"--verify",
			},
		},
	}
}

// privInput is the subset of the bootloader's private-input file that
// references further files on disk.
type privInput struct {
	TracePath  string `json:"trace_path"`
	MemoryPath string `json:"memory_path"`
}

// cleanup removes the intermediate artifacts of a fully successful
// batch. The private-input file is parsed first to discover referenced
// trace/memory files; it is deleted last. Every deletion is advisory:
// failures are logged and skipped, and cleanup never fails the batch.
func (d *Driver) cleanup(p batch.Paths) {
	targets := []string{p.PieFile, p.PubFile}

	if _, err := os.Stat(p.PrivFile); err == nil {
		data, readErr := os.ReadFile(p.PrivFile)
		var priv privInput
		if readErr == nil {
			readErr = json.Unmarshal(data, &priv)
		}
		if readErr != nil {
			d.Log.Warn("failed to parse private input for cleanup",
				zap.String("path", p.PrivFile), zap.Error(readErr))
		} else {
			if priv.TracePath != "" {
				targets = append(targets, priv.TracePath)
			}
			if priv.MemoryPath != "" {
				targets = append(targets, priv.MemoryPath)
			}
		}
		// The private input itself goes last, after its referenced
		// paths have been extracted (or the parse was given up on).
		targets = append(targets, p.PrivFile)
	}

	for _, target := range targets {
		if _, err := os.Stat(target); err != nil {
			continue
		}
		if err := os.Remove(target); err != nil {
			d.Log.Warn("failed to clean up temporary file", zap.String("path", target), zap.Error(err))
			continue
		}
		d.Log.Debug("cleaned up temporary file", zap.String("path", target))
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
