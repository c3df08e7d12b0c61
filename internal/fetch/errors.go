package fetch

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned by a backend whose fetch was aborted by the
// progress callback. It distinguishes a user cancellation from a failure.
var ErrCancelled = errors.New("fetch cancelled")

// ExtractionError represents a failed metadata lookup.
type ExtractionError struct {
	URL    string // Source that could not be inspected
	Reason string // Human-readable explanation
	Err    error  // Underlying error, if any
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("metadata extraction failed for %s: %s", e.URL, e.Reason)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// FetchError represents a transfer or post-processing failure of the backend.
type FetchError struct {
	Operation string // Stage that failed (e.g., "download", "merge")
	Reason    string // Message reported by the backend
	Err       error  // Underlying error, if any
}

func (e *FetchError) Error() string {
	if e.Operation == "" {
		return fmt.Sprintf("fetch failed: %s", e.Reason)
	}

	return fmt.Sprintf("fetch failed during %s: %s", e.Operation, e.Reason)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
