package step

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// timeBinary is the GNU time wrapper used to measure elapsed wall time
// and peak resident memory of every pipeline step.
const timeBinary = "/usr/bin/time"

// UnsupportedError indicates the timing and memory measurement facility
// is unavailable on this host. It is fatal: the run must not start.
type UnsupportedError struct {
	Reason string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("timing and memory measurement unavailable: %s", e.Reason)
}

// Probe verifies that peak-memory measurement of child processes is
// possible on this host. Called once before a run starts; a non-nil
// error aborts the whole process.
func Probe() error {
	if runtime.GOOS != "linux" {
		return &UnsupportedError{Reason: fmt.Sprintf("requires linux, running on %s", runtime.GOOS)}
	}
	if _, err := os.Stat(timeBinary); err != nil {
		return &UnsupportedError{Reason: fmt.Sprintf("%s not found", timeBinary)}
	}
	return nil
}

// Runner launches external pipeline steps wrapped in /usr/bin/time -v,
// capturing output streams and separating measurement diagnostics from
// genuine error output. A Runner is stateless and safe for reuse.
type Runner struct {
	Log *zap.Logger
}

// Run executes argv once, blocking until completion or timeout.
// A timeout of zero disables the deadline.
//
// On a timeout the child's process group is killed and the Result
// carries exit code -1, empty stdout, and a synthetic stderr message
// naming the timeout; Elapsed is the time actually spent waiting.
//
// A non-nil error means the invocation itself could not be carried out
// (bad argv, context cancelled); it is distinct from a non-zero exit,
// which is reported through the Result.
func (r *Runner) Run(ctx context.Context, argv []string, timeout time.Duration) (Result, error) {
	if len(argv) == 0 {
		return Result{}, fmt.Errorf("empty command")
	}

	wrapped := append([]string{timeBinary, "-v"}, argv...)
	cmd := exec.Command(wrapped[0], wrapped[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Own process group so a timeout kill reaches the timed grandchild,
	// not just the /usr/bin/time wrapper.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %q: %w", argv[0], err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case waitErr := <-done:
		elapsed := time.Since(start)
		code := 0
		if waitErr != nil {
			var exitErr *exec.ExitError
			if !errors.As(waitErr, &exitErr) {
				return Result{}, fmt.Errorf("wait for %q: %w", argv[0], waitErr)
			}
			code = exitErr.ExitCode()
		}
		clean, report := splitTimeReport(stderr.String())
		return Result{
			Stdout:     stdout.String(),
			Stderr:     clean,
			TimeReport: report,
			ExitCode:   code,
			Elapsed:    elapsed,
			PeakRSSKB:  parsePeakRSS(report),
		}, nil

	case <-expired:
		r.killGroup(cmd, argv[0])
		<-done
		return Result{
			ExitCode: -1,
			Stderr:   fmt.Sprintf("Process timed out after %s", timeout),
			Elapsed:  time.Since(start),
		}, nil

	case <-ctx.Done():
		r.killGroup(cmd, argv[0])
		<-done
		return Result{}, ctx.Err()
	}
}

// killGroup terminates the command's whole process group.
func (r *Runner) killGroup(cmd *exec.Cmd, name string) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil && r.Log != nil {
		r.Log.Warn("failed to kill process group", zap.String("command", name), zap.Error(err))
	}
}

// timeReportMarkers recognize the diagnostic lines /usr/bin/time -v
// mixes into the child's stderr stream.
var timeReportMarkers = []string{
	"Command being timed",
	"User time",
	"System time",
	"Percent of CPU",
	"Elapsed (wall clock) time",
	"Average",
	"Maximum resident set size",
	"Exit status",
}

// splitTimeReport separates the GNU time diagnostics from the process's
// genuine error output. Lines beginning with a tab or containing a
// known marker belong to the report; everything else is real stderr.
func splitTimeReport(combined string) (clean, report string) {
	if combined == "" {
		return "", ""
	}
	var cleanLines, reportLines []string
	for _, line := range strings.Split(strings.TrimSuffix(combined, "\n"), "\n") {
		if isTimeReportLine(line) {
			reportLines = append(reportLines, line)
		} else {
			cleanLines = append(cleanLines, line)
		}
	}
	return strings.Join(cleanLines, "\n"), strings.Join(reportLines, "\n")
}

func isTimeReportLine(line string) bool {
	if strings.HasPrefix(line, "\t") {
		return true
	}
	for _, marker := range timeReportMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

var peakRSSPattern = regexp.MustCompile(`Maximum resident set size \(kbytes\): (\d+)`)

// parsePeakRSS extracts the peak resident set size from the time
// report. Returns nil when the line is missing or malformed.
func parsePeakRSS(report string) *int64 {
	m := peakRSSPattern.FindStringSubmatch(report)
	if m == nil {
		return nil
	}
	kb, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil
	}
	return &kb
}
