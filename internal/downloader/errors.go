package downloader

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned when a stream is requested before the job completed.
	ErrNotReady = errors.New("artifact not ready")
	// ErrFileMissing is returned when a completed job's artifact vanished from disk.
	ErrFileMissing = errors.New("artifact file missing")
	// ErrTooManyJobs is returned when the active job cap is reached.
	ErrTooManyJobs = errors.New("too many active jobs")
	// ErrShuttingDown is returned by Start once the manager stopped admitting jobs.
	ErrShuttingDown = errors.New("job manager is shutting down")
)

// InvalidInputError represents a rejected submission. No job is created.
type InvalidInputError struct {
	Field  string // Request field that failed validation
	Reason string // Human-readable explanation
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PostconditionError represents a fetch that reported success but left no
// usable artifact behind.
type PostconditionError struct {
	Path   string // Expected artifact location
	Reason string // What was wrong with it
	Err    error  // Underlying error, if any
}

func (e *PostconditionError) Error() string {
	return fmt.Sprintf("artifact %s: %s", e.Path, e.Reason)
}

func (e *PostconditionError) Unwrap() error {
	return e.Err
}
