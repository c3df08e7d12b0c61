package job

import (
	"sync/atomic"
	"time"
)

// Job is the state of one submitted fetch request.
type Job struct {
	ID              string    `json:"job_id"`
	URL             string    `json:"url"`
	Resolution      int       `json:"resolution"`
	Title           string    `json:"title"`
	Status          Status    `json:"status"`
	Progress        float64   `json:"progress"`
	FilePath        string    `json:"-"`
	FinalFilename   string    `json:"filename"`
	DownloadedBytes int64     `json:"downloaded_bytes,omitempty"`
	TotalBytes      int64     `json:"total_bytes,omitempty"`
	TotalEstimated  bool      `json:"-"`
	ErrorMessage    string    `json:"error,omitempty"`
	SessionID       string    `json:"session_id,omitempty"`
	StartTime       time.Time `json:"start_time"`
	FinishedAt      time.Time `json:"finished_at,omitempty"`

	// Token is shared between the registry entry, the worker and the
	// cancellation coordinator. It is dropped together with the entry.
	Token *CancelToken `json:"-"`
}

// Elapsed returns the time since creation, frozen once the job finished.
func (j Job) Elapsed(now time.Time) time.Duration {
	if !j.FinishedAt.IsZero() {
		return j.FinishedAt.Sub(j.StartTime)
	}

	return now.Sub(j.StartTime)
}

// CancelToken is a one-way cancellation flag.
type CancelToken struct {
	cancelled atomic.Bool
}

// NewCancelToken returns a token that is not cancelled.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel sets the flag and reports whether this call was the one that set it.
func (t *CancelToken) Cancel() bool {
	if t == nil {
		return false
	}

	return t.cancelled.CompareAndSwap(false, true)
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	return t != nil && t.cancelled.Load()
}
