// Package fetch defines the contract of the external media backend: metadata
// probing and the long-running fetch that reports progress through a callback.
package fetch

import (
	"context"
)

// Phase is the stage a progress event reports.
type Phase string

const (
	PhaseDownloading Phase = "downloading"
	PhaseFinished    Phase = "finished"
)

// ProgressEvent is emitted by the backend while a fetch runs.
type ProgressEvent struct {
	Phase           Phase
	DownloadedBytes int64
	// TotalBytes is the exact size when the source announces it, 0 otherwise.
	TotalBytes int64
	// TotalBytesEstimate is the backend's guess when no exact size is known.
	TotalBytesEstimate int64
}

// ProgressFunc receives progress events. A non-nil return value asks the
// backend to abort; the backend must stop and return that error.
type ProgressFunc func(ProgressEvent) error

// Metadata describes a media resource before it is fetched.
type Metadata struct {
	Title           string  `json:"title"`
	ThumbnailURL    string  `json:"thumbnail,omitempty"`
	DurationSeconds float64 `json:"duration"`
}

// Request describes one fetch.
type Request struct {
	URL string
	// Resolution caps the video height, e.g. 720.
	Resolution int
	// OutputPath is where the final artifact must be written.
	OutputPath string
	// Format is the container of the merged output, e.g. "mp4".
	Format string
}

// Backend is the capability the job manager consumes.
type Backend interface {
	Probe(ctx context.Context, url string) (Metadata, error)
	Fetch(ctx context.Context, req Request, onProgress ProgressFunc) error
}
