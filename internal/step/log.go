package step

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WriteLog persists the durable per-step log as <dir>/<logName>.log.
// It is written after every attempted step regardless of outcome, so a
// failed batch leaves a diagnosable trail in its directory.
func WriteLog(dir, logName string, res Result, ts time.Time) error {
	path := filepath.Join(dir, logName+".log")
	if err := os.WriteFile(path, FormatLog(res, ts), 0o644); err != nil {
		return fmt.Errorf("write step log %s: %w", path, err)
	}
	return nil
}

// FormatLog renders the plain-text step log: a header naming the step,
// the timestamp, exit code, elapsed seconds and peak memory, followed
// by the captured output streams verbatim.
func FormatLog(res Result, ts time.Time) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "=== %s STEP LOG ===\n", res.Step)
	fmt.Fprintf(&b, "Timestamp: %s\n", ts.Format(time.RFC3339))
	fmt.Fprintf(&b, "Return Code: %d\n", res.ExitCode)
	fmt.Fprintf(&b, "Execution Time: %.2f seconds\n", res.Elapsed.Seconds())
	if res.PeakRSSKB != nil {
		fmt.Fprintf(&b, "Max Memory Usage: %.1f MB\n", float64(*res.PeakRSSKB)/1024)
	}
	b.WriteString("\n")

	if res.Stdout != "" {
		b.WriteString("=== STDOUT ===\n")
		b.WriteString(res.Stdout)
		b.WriteString("\n")
	}
	if res.Stderr != "" {
		b.WriteString("=== STDERR ===\n")
		b.WriteString(res.Stderr)
		b.WriteString("\n")
	}
	return []byte(b.String())
}
