package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// newTestWorkspace creates a workspace over a temp root with an
// observed logger for asserting on warnings.
func newTestWorkspace(t *testing.T) (*Workspace, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	w := NewWorkspace(t.TempDir(), "light", 0, zap.New(core))
	return w, logs
}

// completeBatch creates a conventional batch directory containing a
// finalized proof.
func completeBatch(t *testing.T, root, name string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProofFileName), []byte(`{"proof":true}`), 0o644))
}

// incompleteBatch creates a conventional batch directory without a proof.
func incompleteBatch(t *testing.T, root, name string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, name), 0o755))
}

func TestDirName(t *testing.T) {
	w, _ := newTestWorkspace(t)
	assert.Equal(t, "light_30_to_40", w.DirName(Batch{Start: 30, Size: 10}))
	assert.Equal(t, "light_0_to_1", w.DirName(Batch{Start: 0, Size: 1}))
}

func TestPaths(t *testing.T) {
	w, _ := newTestWorkspace(t)
	p := w.Paths(Batch{Start: 10, Size: 10})

	assert.Equal(t, filepath.Join(w.Root, "light_10_to_20"), p.Dir)
	assert.Equal(t, filepath.Join(p.Dir, "batch.json"), p.BatchFile)
	assert.Equal(t, filepath.Join(p.Dir, "arguments.json"), p.ArgumentsFile)
	assert.Equal(t, filepath.Join(p.Dir, "proof.json"), p.ProofFile)
	assert.Equal(t, filepath.Join(p.Dir, "pie.cairo_pie.zip"), p.PieFile)
	assert.Equal(t, filepath.Join(p.Dir, "priv.json"), p.PrivFile)
	assert.Equal(t, filepath.Join(p.Dir, "pub.json"), p.PubFile)
}

func TestEnsure_Idempotent(t *testing.T) {
	w, _ := newTestWorkspace(t)
	b := Batch{Start: 0, Size: 10}

	p1, err := w.Ensure(b)
	require.NoError(t, err)
	assert.DirExists(t, p1.Dir)

	// Leave a partial artifact behind and re-ensure: the directory and
	// its contents survive.
	require.NoError(t, os.WriteFile(p1.BatchFile, []byte("{}"), 0o644))
	p2, err := w.Ensure(b)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.FileExists(t, p2.BatchFile)
}

func TestPreviousProof_OriginHasNoPredecessor(t *testing.T) {
	w, _ := newTestWorkspace(t)
	completeBatch(t, w.Root, "light_0_to_10")

	proof, err := w.PreviousProof(0)
	require.NoError(t, err)
	assert.Empty(t, proof)
}

func TestPreviousProof_FindsChainedBatch(t *testing.T) {
	w, _ := newTestWorkspace(t)
	completeBatch(t, w.Root, "light_0_to_10")
	completeBatch(t, w.Root, "light_10_to_20")

	proof, err := w.PreviousProof(20)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(w.Root, "light_10_to_20", "proof.json"), proof)
}

func TestPreviousProof_IgnoresDirectoriesWithoutProof(t *testing.T) {
	w, _ := newTestWorkspace(t)
	incompleteBatch(t, w.Root, "light_0_to_10")

	proof, err := w.PreviousProof(10)
	require.NoError(t, err)
	assert.Empty(t, proof)
}

func TestPreviousProof_NoMatchingDirectory(t *testing.T) {
	w, _ := newTestWorkspace(t)
	completeBatch(t, w.Root, "light_0_to_10")

	proof, err := w.PreviousProof(30)
	require.NoError(t, err)
	assert.Empty(t, proof)
}

func TestPreviousProof_MissingRoot(t *testing.T) {
	core, _ := observer.New(zap.DebugLevel)
	w := NewWorkspace(filepath.Join(t.TempDir(), "absent"), "light", 0, zap.New(core))

	proof, err := w.PreviousProof(10)
	require.NoError(t, err)
	assert.Empty(t, proof)
}

func TestPreviousProof_AmbiguousEndHeightWarnsAndPicksFirst(t *testing.T) {
	w, logs := newTestWorkspace(t)
	completeBatch(t, w.Root, "light_0_to_20")
	completeBatch(t, w.Root, "light_10_to_20")

	proof, err := w.PreviousProof(20)
	require.NoError(t, err)
	// Sorted name order: "light_0_to_20" < "light_10_to_20".
	assert.Equal(t, filepath.Join(w.Root, "light_0_to_20", "proof.json"), proof)

	warnings := logs.FilterMessage("multiple batch directories claim the same end height")
	require.Equal(t, 1, warnings.Len())
}

func TestPreviousProof_IgnoresForeignModes(t *testing.T) {
	w, _ := newTestWorkspace(t)
	completeBatch(t, w.Root, "full_0_to_10")

	proof, err := w.PreviousProof(10)
	require.NoError(t, err)
	assert.Empty(t, proof)
}

func TestResumeHeight_EmptyRoot(t *testing.T) {
	w, _ := newTestWorkspace(t)
	height, err := w.ResumeHeight()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), height)
}

func TestResumeHeight_MissingRoot(t *testing.T) {
	core, _ := observer.New(zap.DebugLevel)
	w := NewWorkspace(filepath.Join(t.TempDir(), "absent"), "light", 0, zap.New(core))

	height, err := w.ResumeHeight()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), height)
}

func TestResumeHeight_HighestCompletedBatchWins(t *testing.T) {
	w, _ := newTestWorkspace(t)
	completeBatch(t, w.Root, "light_0_to_10")
	completeBatch(t, w.Root, "light_10_to_20")
	completeBatch(t, w.Root, "light_90_to_100")

	height, err := w.ResumeHeight()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), height)
}

func TestResumeHeight_IgnoresIncompleteBatches(t *testing.T) {
	w, _ := newTestWorkspace(t)
	completeBatch(t, w.Root, "light_0_to_10")
	incompleteBatch(t, w.Root, "light_10_to_20")

	height, err := w.ResumeHeight()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), height)
}

func TestResumeHeight_IgnoresUnrelatedEntries(t *testing.T) {
	w, _ := newTestWorkspace(t)
	completeBatch(t, w.Root, "light_0_to_10")
	incompleteBatch(t, w.Root, "scratch")
	completeBatch(t, w.Root, "dark_0_to_50")
	// A stray file at the root is skipped too.
	require.NoError(t, os.WriteFile(filepath.Join(w.Root, "light_50_to_60"), nil, 0o644))

	height, err := w.ResumeHeight()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), height)
}

func TestResumeHeight_NonZeroOrigin(t *testing.T) {
	core, _ := observer.New(zap.DebugLevel)
	w := NewWorkspace(t.TempDir(), "light", 170000, zap.New(core))

	height, err := w.ResumeHeight()
	require.NoError(t, err)
	assert.Equal(t, uint64(170000), height)
}
