// Package batch owns the on-disk layout of proof batches.
//
// The filesystem is the only coordination state between runs: every
// cross-run question (where to resume, which proof precedes a height)
// is re-derived by scanning a stable directory naming convention,
// never carried in memory. The convention is
//
//	<root>/<mode>_<start>_to_<end>/
//
// where a finalized proof.json inside the directory is the durable
// marker of batch completion.
package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"go.uber.org/zap"
)

// Artifact file names inside a batch directory.
const (
	BatchFileName     = "batch.json"
	ArgumentsFileName = "arguments.json"
	ProofFileName     = "proof.json"
	PieFileName       = "pie.cairo_pie.zip"
	PrivFileName      = "priv.json"
	PubFileName       = "pub.json"
)

// Batch identifies one unit of work: a contiguous height range.
type Batch struct {
	Start uint64
	Size  uint64
}

// End returns the exclusive end height of the range.
func (b Batch) End() uint64 {
	return b.Start + b.Size
}

// Paths collects every artifact path of one batch directory.
type Paths struct {
	Dir           string
	BatchFile     string
	ArgumentsFile string
	ProofFile     string
	PieFile       string
	PrivFile      string
	PubFile       string
}

// Workspace scans and lays out batch directories under a working root.
// It is the only component that knows the naming convention; callers
// deal in heights and artifact paths.
type Workspace struct {
	// Root is the directory holding all batch directories (".proofs").
	Root string

	// Mode prefixes every batch directory name.
	Mode string

	// Origin is the first height of the chain; a batch starting there
	// has no predecessor proof.
	Origin uint64

	Log *zap.Logger

	namePattern *regexp.Regexp
}

// NewWorkspace builds a Workspace for the given root, mode and origin.
func NewWorkspace(root, mode string, origin uint64, log *zap.Logger) *Workspace {
	return &Workspace{
		Root:        root,
		Mode:        mode,
		Origin:      origin,
		Log:         log,
		namePattern: regexp.MustCompile(`^` + regexp.QuoteMeta(mode) + `_(\d+)_to_(\d+)$`),
	}
}

// DirName returns the conventional directory name for a batch.
func (w *Workspace) DirName(b Batch) string {
	return fmt.Sprintf("%s_%d_to_%d", w.Mode, b.Start, b.End())
}

// Paths returns every artifact path of the batch without touching disk.
func (w *Workspace) Paths(b Batch) Paths {
	dir := filepath.Join(w.Root, w.DirName(b))
	return Paths{
		Dir:           dir,
		BatchFile:     filepath.Join(dir, BatchFileName),
		ArgumentsFile: filepath.Join(dir, ArgumentsFileName),
		ProofFile:     filepath.Join(dir, ProofFileName),
		PieFile:       filepath.Join(dir, PieFileName),
		PrivFile:      filepath.Join(dir, PrivFileName),
		PubFile:       filepath.Join(dir, PubFileName),
	}
}

// Ensure creates the batch directory if needed and returns its paths.
// Idempotent: re-running a batch reuses the existing directory and
// whatever partial artifacts a previous attempt left behind.
func (w *Workspace) Ensure(b Batch) (Paths, error) {
	p := w.Paths(b)
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("create batch directory %s: %w", p.Dir, err)
	}
	return p, nil
}

// EnsureRoot creates the working root if needed.
func (w *Workspace) EnsureRoot() error {
	if err := os.MkdirAll(w.Root, 0o755); err != nil {
		return fmt.Errorf("create proof root %s: %w", w.Root, err)
	}
	return nil
}

// PreviousProof resolves the predecessor proof for a batch starting at
// height: the finalized proof of the batch directory whose recorded end
// height equals height. Returns "" when height is the origin or when no
// candidate directory holds a finalized proof.
//
// Batches are chained positionally by height contiguity, not by an
// explicit parent pointer, so the predecessor is always re-derived from
// the directory layout. When more than one directory claims the same
// end height the first in sorted name order wins; the contenders are
// logged so the ambiguity is visible rather than silent.
func (w *Workspace) PreviousProof(height uint64) (string, error) {
	if height == w.Origin {
		return "", nil
	}

	ends, err := w.scan()
	if err != nil {
		return "", err
	}

	var candidates []string
	for _, e := range ends {
		if e.end != height {
			continue
		}
		proof := filepath.Join(w.Root, e.name, ProofFileName)
		if _, statErr := os.Stat(proof); statErr == nil {
			candidates = append(candidates, proof)
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}
	if len(candidates) > 1 && w.Log != nil {
		w.Log.Warn("multiple batch directories claim the same end height",
			zap.Uint64("end_height", height),
			zap.String("chosen", candidates[0]),
			zap.Strings("contenders", candidates))
	}
	return candidates[0], nil
}

// ResumeHeight derives the default starting height: the maximum end
// height among batch directories that contain a finalized proof, or
// the origin when none exist (including when the root itself does not
// exist yet).
func (w *Workspace) ResumeHeight() (uint64, error) {
	ends, err := w.scan()
	if err != nil {
		return 0, err
	}

	max := w.Origin
	for _, e := range ends {
		proof := filepath.Join(w.Root, e.name, ProofFileName)
		if _, statErr := os.Stat(proof); statErr != nil {
			continue
		}
		if e.end > max {
			max = e.end
		}
	}
	return max, nil
}

// dirEntry pairs a conventional directory name with its parsed end height.
type dirEntry struct {
	name string
	end  uint64
}

// scan enumerates batch directories under the root, skipping anything
// that does not match the convention. os.ReadDir returns entries in
// sorted name order, which gives the resolver its deterministic
// first-match behavior. A missing root is not an error: no batches
// exist yet.
func (w *Workspace) scan() ([]dirEntry, error) {
	entries, err := os.ReadDir(w.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan proof root %s: %w", w.Root, err)
	}

	var out []dirEntry
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m := w.namePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		end, parseErr := strconv.ParseUint(m[2], 10, 64)
		if parseErr != nil {
			continue
		}
		out = append(out, dirEntry{name: entry.Name(), end: end})
	}
	return out, nil
}
