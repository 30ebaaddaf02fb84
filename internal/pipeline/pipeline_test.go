package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/SeanMeir11/raito/internal/batch"
	"github.com/SeanMeir11/raito/internal/step"
)

// fakeRunner returns scripted results per invocation and records the
// argv of every call.
type fakeRunner struct {
	results []step.Result
	errs    []error
	calls   [][]string
}

func (f *fakeRunner) Run(ctx context.Context, argv []string, timeout time.Duration) (step.Result, error) {
	i := len(f.calls)
	f.calls = append(f.calls, argv)
	if i < len(f.errs) && f.errs[i] != nil {
		return step.Result{}, f.errs[i]
	}
	if i >= len(f.results) {
		return step.Result{}, fmt.Errorf("unexpected invocation %d: %v", i, argv)
	}
	return f.results[i], nil
}

func okResult() step.Result {
	return step.Result{ExitCode: 0, Elapsed: time.Second}
}

func failResult(code int) step.Result {
	return step.Result{ExitCode: code, Elapsed: time.Second, Stderr: "boom"}
}

// setupDriver builds a driver over a real temp batch directory.
func setupDriver(t *testing.T, runner StepRunner) (*Driver, batch.Paths, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	w := batch.NewWorkspace(t.TempDir(), "light", 0, zap.New(core))
	paths, err := w.Ensure(batch.Batch{Start: 0, Size: 10})
	require.NoError(t, err)

	d := &Driver{
		Runner:       runner,
		ProverParams: "params.json",
		Log:          zap.New(core),
	}
	return d, paths, logs
}

// writeIntermediates populates the artifacts the cleanup pass targets.
// The private input references two extra files that must go too.
func writeIntermediates(t *testing.T, paths batch.Paths) (tracePath, memoryPath string) {
	t.Helper()
	tracePath = filepath.Join(paths.Dir, "trace.bin")
	memoryPath = filepath.Join(paths.Dir, "memory.bin")

	require.NoError(t, os.WriteFile(paths.PieFile, []byte("pie"), 0o644))
	require.NoError(t, os.WriteFile(paths.PubFile, []byte("{}"), 0o644))
	priv := fmt.Sprintf(`{"trace_path":%q,"memory_path":%q}`, tracePath, memoryPath)
	require.NoError(t, os.WriteFile(paths.PrivFile, []byte(priv), 0o644))
	require.NoError(t, os.WriteFile(tracePath, []byte("t"), 0o644))
	require.NoError(t, os.WriteFile(memoryPath, []byte("m"), 0o644))
	return tracePath, memoryPath
}

func TestRun_AllStepsSucceed(t *testing.T) {
	runner := &fakeRunner{results: []step.Result{okResult(), okResult(), okResult()}}
	d, paths, _ := setupDriver(t, runner)

	results, err := d.Run(context.Background(), "prog.json", paths)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, step.Execute, results[0].Step)
	assert.Equal(t, step.Bootload, results[1].Step)
	assert.Equal(t, step.Prove, results[2].Step)
}

func TestRun_StepCommands(t *testing.T) {
	runner := &fakeRunner{results: []step.Result{okResult(), okResult(), okResult()}}
	d, paths, _ := setupDriver(t, runner)

	_, err := d.Run(context.Background(), "prog.json", paths)
	require.NoError(t, err)
	require.Len(t, runner.calls, 3)

	assert.Equal(t, []string{
		"cairo-execute",
		"--layout", "all_cairo_stwo",
		"--args-file", paths.ArgumentsFile,
		"--prebuilt",
		"--output-path", paths.PieFile,
		"prog.json",
	}, runner.calls[0])

	assert.Equal(t, []string{
		"stwo-bootloader",
		"--pie", paths.PieFile,
		"--output-path", paths.Dir,
	}, runner.calls[1])

	assert.Equal(t, []string{
		"adapted_stwo",
		"--priv_json", paths.PrivFile,
		"--pub_json", paths.PubFile,
		"--params_json", "params.json",
		"--proof_path", paths.ProofFile,
		"--proof-format", "cairo-serde",
		"--verify",
	}, runner.calls[2])
}

func TestRun_ExecuteFailureShortCircuits(t *testing.T) {
	runner := &fakeRunner{results: []step.Result{failResult(1)}}
	d, paths, _ := setupDriver(t, runner)

	results, err := d.Run(context.Background(), "prog.json", paths)
	require.NoError(t, err)

	// Later steps are never attempted.
	require.Len(t, results, 1)
	assert.Equal(t, step.Execute, results[0].Step)
	assert.Len(t, runner.calls, 1)
}

func TestRun_BootloadFailureStopsBeforeProve(t *testing.T) {
	runner := &fakeRunner{results: []step.Result{okResult(), failResult(2)}}
	d, paths, logs := setupDriver(t, runner)

	results, err := d.Run(context.Background(), "prog.json", paths)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Len(t, runner.calls, 2)
	assert.Equal(t, 1, logs.FilterMessage("bootload step failed").Len())
}

func TestRun_WritesLogForEveryAttemptedStep(t *testing.T) {
	runner := &fakeRunner{results: []step.Result{okResult(), failResult(1)}}
	d, paths, _ := setupDriver(t, runner)

	_, err := d.Run(context.Background(), "prog.json", paths)
	require.NoError(t, err)

	// A log per attempted step, failure included; none for prove.
	assert.FileExists(t, filepath.Join(paths.Dir, "pie.log"))
	assert.FileExists(t, filepath.Join(paths.Dir, "bootload.log"))
	assert.NoFileExists(t, filepath.Join(paths.Dir, "prove.log"))
}

func TestRun_InvocationErrorPropagates(t *testing.T) {
	runner := &fakeRunner{errs: []error{fmt.Errorf("exec format error")}}
	d, paths, _ := setupDriver(t, runner)

	results, err := d.Run(context.Background(), "prog.json", paths)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EXECUTE step")
	assert.Empty(t, results)
}

func TestRun_CleanupOnSuccess(t *testing.T) {
	runner := &fakeRunner{results: []step.Result{okResult(), okResult(), okResult()}}
	d, paths, _ := setupDriver(t, runner)
	tracePath, memoryPath := writeIntermediates(t, paths)
	require.NoError(t, os.WriteFile(paths.ProofFile, []byte(`{"proof":true}`), 0o644))

	_, err := d.Run(context.Background(), "prog.json", paths)
	require.NoError(t, err)

	assert.NoFileExists(t, paths.PieFile)
	assert.NoFileExists(t, paths.PubFile)
	assert.NoFileExists(t, paths.PrivFile)
	assert.NoFileExists(t, tracePath)
	assert.NoFileExists(t, memoryPath)

	// The finalized proof is never deleted.
	assert.FileExists(t, paths.ProofFile)
}

func TestRun_NoCleanupOnProveFailure(t *testing.T) {
	runner := &fakeRunner{results: []step.Result{okResult(), okResult(), failResult(1)}}
	d, paths, _ := setupDriver(t, runner)
	tracePath, memoryPath := writeIntermediates(t, paths)

	_, err := d.Run(context.Background(), "prog.json", paths)
	require.NoError(t, err)

	assert.FileExists(t, paths.PieFile)
	assert.FileExists(t, paths.PubFile)
	assert.FileExists(t, paths.PrivFile)
	assert.FileExists(t, tracePath)
	assert.FileExists(t, memoryPath)
}

func TestRun_CleanupToleratesUnparsablePrivateInput(t *testing.T) {
	runner := &fakeRunner{results: []step.Result{okResult(), okResult(), okResult()}}
	d, paths, logs := setupDriver(t, runner)

	require.NoError(t, os.WriteFile(paths.PieFile, []byte("pie"), 0o644))
	require.NoError(t, os.WriteFile(paths.PubFile, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(paths.PrivFile, []byte("not json"), 0o644))

	_, err := d.Run(context.Background(), "prog.json", paths)
	require.NoError(t, err)

	// Cleanup degrades to deleting the known artifacts, priv included.
	assert.NoFileExists(t, paths.PieFile)
	assert.NoFileExists(t, paths.PubFile)
	assert.NoFileExists(t, paths.PrivFile)
	assert.Equal(t, 1, logs.FilterMessage("failed to parse private input for cleanup").Len())
}

func TestRun_CleanupSkipsMissingFiles(t *testing.T) {
	runner := &fakeRunner{results: []step.Result{okResult(), okResult(), okResult()}}
	d, paths, _ := setupDriver(t, runner)

	// Nothing to clean: no pie, pub, or priv was ever written.
	_, err := d.Run(context.Background(), "prog.json", paths)
	require.NoError(t, err)
}
