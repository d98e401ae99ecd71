package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across components.
var (
	// ErrRunNotFound is returned when neither the live registry nor the
	// checkpoint store knows the run id.
	ErrRunNotFound = errors.New("run not found")

	// ErrCheckpointNotFound is returned by the checkpoint store when no
	// record exists for a run id.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrRunNotRecoverable is returned when recovery is requested for a
	// run that is not halted in a recoverable error state.
	ErrRunNotRecoverable = errors.New("run is not in a recoverable error state")
)

// ValidationError rejects a submitted payload before any run is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// ToolUnavailable is returned by the gateway when no handler is
// registered for the requested tool.
type ToolUnavailable struct {
	Tool string
}

func (e *ToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.Tool)
}

// ToolTimeout is returned when a single gateway call exceeds its
// per-call deadline.
type ToolTimeout struct {
	Tool    string
	Timeout time.Duration
}

func (e *ToolTimeout) Error() string {
	return fmt.Sprintf("tool %q timed out after %s", e.Tool, e.Timeout)
}

// ToolFailure is surfaced after bounded retries of a transient tool
// error are exhausted.
type ToolFailure struct {
	Tool     string
	Attempts int
	Err      error
}

func (e *ToolFailure) Error() string {
	return fmt.Sprintf("tool %q failed after %d attempts: %v", e.Tool, e.Attempts, e.Err)
}

func (e *ToolFailure) Unwrap() error { return e.Err }

// InvalidResumeState rejects a resume or cancel request against a run
// that is not suspended.
type InvalidResumeState struct {
	RunID string
	Stage Stage
}

func (e *InvalidResumeState) Error() string {
	return fmt.Sprintf("run %s is not suspended (stage %s)", e.RunID, e.Stage)
}

// PostingFailure halts a run in a recoverable error state after ERP
// posting retries are exhausted. The run is never silently completed.
type PostingFailure struct {
	RunID    string
	Attempts int
	Err      error
}

func (e *PostingFailure) Error() string {
	return fmt.Sprintf("posting for run %s failed after %d attempts: %v", e.RunID, e.Attempts, e.Err)
}

func (e *PostingFailure) Unwrap() error { return e.Err }
