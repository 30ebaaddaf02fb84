// Package cli wires the driver's command-line surface to the engine.
package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SeanMeir11/raito/internal/batch"
	"github.com/SeanMeir11/raito/internal/config"
	"github.com/SeanMeir11/raito/internal/engine"
	"github.com/SeanMeir11/raito/internal/generator"
	"github.com/SeanMeir11/raito/internal/ledger"
	"github.com/SeanMeir11/raito/internal/logging"
	"github.com/SeanMeir11/raito/internal/pipeline"
	"github.com/SeanMeir11/raito/internal/step"
)

// Options holds the driver's flag surface.
type Options struct {
	Start   uint64
	Blocks  uint64
	Step    uint64
	Verbose bool
}

// NewRootCommand creates the raito-prover root command.
func NewRootCommand() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:   "raito-prover",
		Short: "Drive the multi-stage proving pipeline over block height ranges",
		Long: `raito-prover processes a span of block heights in fixed-size batches,
chaining each batch's proof to the previous one. Per-batch artifacts
live under the proof directory; when --start is not given, the driver
resumes from the highest completed batch found on disk.

Example:
  raito-prover --blocks 100 --step 10
  raito-prover --start 50 --blocks 10 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDriver(cmd, opts)
		},
	}

	cmd.Flags().Uint64Var(&opts.Start, "start", 0, "start block height (default: auto-detect from last proof)")
	cmd.Flags().Uint64Var(&opts.Blocks, "blocks", 1, "number of blocks to process")
	cmd.Flags().Uint64Var(&opts.Step, "step", 10, "step size for block processing")
	cmd.Flags().BoolVar(&opts.Verbose, "verbose", false, "verbose logging")

	return cmd
}

// validateOptions rejects flag combinations the engine cannot run.
func validateOptions(opts *Options) error {
	if opts.Step == 0 {
		return NewExitError(ExitUsageError, "--step must be at least 1")
	}
	return nil
}

func runDriver(cmd *cobra.Command, opts *Options) error {
	if err := validateOptions(opts); err != nil {
		return err
	}

	cfg, err := config.Load(config.DefaultFile)
	if err != nil {
		return WrapExitError(ExitUsageError, "configuration error", err)
	}

	log, flush := logging.New(logging.Options{
		Verbose:    opts.Verbose,
		File:       cfg.LogFile,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	defer flush()

	// The measurement facility is a hard requirement; refuse to start
	// without it rather than produce unmeasured batches.
	if err := step.Probe(); err != nil {
		return WrapExitError(ExitFailure, "unsupported environment", err)
	}

	runID, err := uuid.NewV7()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to generate run ID", err)
	}

	workspace := batch.NewWorkspace(cfg.ProofDir, cfg.Mode, cfg.Origin, log)

	start := opts.Start
	if !cmd.Flags().Changed("start") {
		start, err = workspace.ResumeHeight()
		if err != nil {
			return WrapExitError(ExitFailure, "failed to auto-detect start", err)
		}
		log.Info("auto-detected start", zap.Uint64("start", start))
	}

	var led *ledger.Ledger
	if cfg.HistoryDB != "" {
		led = openLedger(cfg.HistoryDB, log)
		defer led.Close()
	}

	eng := &engine.Engine{
		Workspace: workspace,
		Data: &generator.DataGenerator{
			Argv:    cfg.GenerateDataCmd,
			Mode:    cfg.Mode,
			Fast:    cfg.FastData,
			Timeout: cfg.GeneratorTimeout.Std(),
			Log:     log,
		},
		Args: &generator.ArgumentBuilder{
			Argv:    cfg.FormatArgsCmd,
			Timeout: cfg.GeneratorTimeout.Std(),
			Log:     log,
		},
		Pipeline: &pipeline.Driver{
			Runner:       &step.Runner{Log: log},
			ProverParams: cfg.ProverParams,
			StepTimeout:  cfg.StepTimeout.Std(),
			Log:          log,
		},
		Executable: cfg.Executable,
		RunID:      runID.String(),
		Ledger:     led,
		Log:        log,
	}

	// An external SIGTERM/SIGINT cancels the context, which terminates
	// the current child process; there is no finer-grained mid-batch
	// cancellation.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	eng.Run(ctx, start, opts.Blocks, opts.Step)
	return nil
}

// openLedger opens the run-history database, creating its directory if
// needed. The ledger is advisory: any failure here disables it with a
// warning and the run proceeds.
func openLedger(path string, log *zap.Logger) *ledger.Ledger {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Warn("run-history ledger disabled", zap.Error(err))
			return nil
		}
	}
	led, err := ledger.Open(path)
	if err != nil {
		log.Warn("run-history ledger disabled", zap.Error(err))
		return nil
	}
	return led
}
