package claude

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

var (
	ErrQueueClosed   = errors.New("prompt queue closed")
	ErrProcessExited = errors.New("claude CLI exited")
	ErrAborted       = errors.New("query aborted")
)

// ProcessError wraps a failure to drive the CLI subprocess. Op names the
// step that failed ("stdin pipe", "start", "wait").
type ProcessError struct {
	Cause    error
	Op       string
	ExitCode int
}

func (e *ProcessError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("claude %s: exit status %d", e.Op, e.ExitCode)
	}
	return fmt.Sprintf("claude %s: %v", e.Op, e.Cause)
}

func (e *ProcessError) Unwrap() error { return e.Cause }

// exitError builds the error Next returns once the CLI has exited on its own.
func exitError(waitErr error) *ProcessError {
	pe := &ProcessError{Op: "wait", Cause: errors.Join(ErrProcessExited, waitErr)}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		pe.ExitCode = exitErr.ExitCode()
	}
	return pe
}

// CLINotFoundError is returned when the configured CLI path does not resolve.
type CLINotFoundError struct {
	Cause error
	Path  string
}

func (e *CLINotFoundError) Error() string {
	return fmt.Sprintf("claude CLI %q not found: %v", e.Path, e.Cause)
}

func (e *CLINotFoundError) Unwrap() error { return e.Cause }

// IsCancellation reports whether err only reflects an abort.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled)
}
