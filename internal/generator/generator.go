// Package generator invokes the external data and argument generators.
//
// Both collaborators are black boxes consumed over a subprocess
// boundary: they receive their parameters as flags and emit a JSON
// payload on stdout. Unlike pipeline steps they are not wrapped in the
// measurement harness; a failure surfaces as an error carrying the
// captured stderr for diagnosis.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// BatchInput is the persisted input record of one batch: the chain
// state at the start of the range plus the block data covering it.
// Extra members in the generator's output are tolerated and dropped.
type BatchInput struct {
	ChainState json.RawMessage `json:"chain_state"`
	Blocks     json.RawMessage `json:"blocks"`
}

// DataGenerator produces chain-state and block records for a height
// range by invoking the configured external command.
type DataGenerator struct {
	// Argv is the command prefix; range parameters are appended.
	Argv []string

	// Mode selects the generator's data mode ("light").
	Mode string

	// Fast requests the generator's fast path.
	Fast bool

	Timeout time.Duration
	Log     *zap.Logger
}

// Generate runs the data generator for [height, height+numBlocks) and
// decodes its stdout. The payload must carry chain_state and blocks
// members; anything else it emits is discarded.
func (g *DataGenerator) Generate(ctx context.Context, height, numBlocks uint64) (BatchInput, error) {
	argv := append(append([]string{}, g.Argv...),
		"--mode", g.Mode,
		"--height", strconv.FormatUint(height, 10),
		"--num-blocks", strconv.FormatUint(numBlocks, 10),
	)
	if g.Fast {
		argv = append(argv, "--fast")
	}

	stdout, err := runCommand(ctx, g.Log, argv, g.Timeout)
	if err != nil {
		return BatchInput{}, fmt.Errorf("data generator: %w", err)
	}

	var input BatchInput
	if err := json.Unmarshal(stdout, &input); err != nil {
		return BatchInput{}, fmt.Errorf("data generator: decode output: %w", err)
	}
	if input.ChainState == nil {
		return BatchInput{}, fmt.Errorf("data generator: output missing chain_state")
	}
	if input.Blocks == nil {
		return BatchInput{}, fmt.Errorf("data generator: output missing blocks")
	}
	return input, nil
}

// ArgumentBuilder produces the prover argument payload for one batch by
// invoking the configured external command.
type ArgumentBuilder struct {
	// Argv is the command prefix; the batch file and optional
	// predecessor proof are appended.
	Argv []string

	Timeout time.Duration
	Log     *zap.Logger
}

// Build runs the argument builder against a persisted batch file,
// chaining in the predecessor proof when one exists (previousProof may
// be empty at the origin). Returns the compacted JSON payload.
func (b *ArgumentBuilder) Build(ctx context.Context, batchFile, previousProof string) ([]byte, error) {
	argv := append(append([]string{}, b.Argv...), "--batch-file", batchFile)
	if previousProof != "" {
		argv = append(argv, "--proof", previousProof)
	}

	stdout, err := runCommand(ctx, b.Log, argv, b.Timeout)
	if err != nil {
		return nil, fmt.Errorf("argument builder: %w", err)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, stdout); err != nil {
		return nil, fmt.Errorf("argument builder: invalid JSON output: %w", err)
	}
	return compact.Bytes(), nil
}

// runCommand executes argv with a deadline, returning stdout. On
// failure the error carries the trailing stderr so the operator sees
// the generator's own diagnostics.
func runCommand(ctx context.Context, log *zap.Logger, argv []string, timeout time.Duration) ([]byte, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if log != nil {
		log.Debug("running generator command", zap.String("command", strings.Join(argv, " ")))
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Don't let an orphaned grandchild holding the output pipe stall
	// the run after the context is cancelled.
	cmd.WaitDelay = 5 * time.Second

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%s timed out after %s", argv[0], timeout)
		}
		return nil, fmt.Errorf("%s: %w%s", argv[0], err, stderrTail(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// stderrTail formats the last lines of stderr for inclusion in an error.
func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	const keep = 10
	if len(lines) > keep {
		lines = lines[len(lines)-keep:]
	}
	return ": " + strings.Join(lines, "; ")
}
