package cli

import (
	"errors"
	"fmt"
)

// Exit codes for the driver process.
//
// A run that stops after a batch failure still exits zero: batch
// outcome is signalled through logs only, and the filesystem is left
// in a state a rerun picks up cleanly. Non-zero codes are reserved for
// fatal startup problems.
const (
	ExitSuccess    = 0 // Run finished (all batches, or stopped after a batch failure)
	ExitFailure    = 1 // Fatal runtime problem (unsupported environment)
	ExitUsageError = 2 // Bad flags or invalid configuration
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitUsageError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}
