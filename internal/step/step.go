package step

import (
	"time"
)

// Name identifies one stage of the proving pipeline.
type Name string

const (
	// Execute runs the Cairo executable and produces the pie artifact.
	Execute Name = "EXECUTE"

	// Bootload consumes the pie artifact and emits prover input files.
	Bootload Name = "BOOTLOAD"

	// Prove consumes the prover inputs and emits the final proof.
	Prove Name = "PROVE"
)

// Result captures the outcome of one external process invocation.
// Immutable once produced; one Result corresponds to exactly one attempt.
type Result struct {
	// Step names the pipeline stage this invocation belongs to.
	Step Name

	// Stdout is the captured standard output, verbatim.
	Stdout string

	// Stderr is the process's genuine error output, with the
	// measurement diagnostics stripped out into TimeReport.
	Stderr string

	// TimeReport holds the diagnostic lines /usr/bin/time -v appended
	// to the error stream (timing, CPU, peak memory).
	TimeReport string

	// ExitCode is the process exit status. -1 indicates a timeout.
	ExitCode int

	// Elapsed is the wall-clock time spent waiting for the process.
	Elapsed time.Duration

	// PeakRSSKB is the peak resident set size in kilobytes.
	// Nil when the measurement line was absent from the output.
	PeakRSSKB *int64
}

// Ok reports whether the invocation completed with exit status zero.
func (r Result) Ok() bool {
	return r.ExitCode == 0
}
