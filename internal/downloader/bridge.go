package downloader

import (
	"math"

	"github.com/italolelis/mediafetch/internal/fetch"
	"github.com/italolelis/mediafetch/internal/job"
)

// Bridge turns backend progress events into registry updates for one job.
// The backend calls Handle from a single goroutine, so events are applied in
// emission order.
type Bridge struct {
	registry *job.Registry
	jobID    string
	token    *job.CancelToken
}

// NewBridge creates a bridge for jobID.
func NewBridge(registry *job.Registry, jobID string, token *job.CancelToken) *Bridge {
	return &Bridge{
		registry: registry,
		jobID:    jobID,
		token:    token,
	}
}

// Handle is a fetch.ProgressFunc. It returns fetch.ErrCancelled once the
// job's token is set so the backend aborts.
func (b *Bridge) Handle(ev fetch.ProgressEvent) error {
	if b.token.Cancelled() {
		return fetch.ErrCancelled
	}

	switch ev.Phase {
	case fetch.PhaseDownloading:
		return b.downloading(ev)
	case fetch.PhaseFinished:
		return b.finished()
	default:
		return nil
	}
}

func (b *Bridge) downloading(ev fetch.ProgressEvent) error {
	total, estimated := ev.TotalBytes, false
	if total <= 0 && ev.TotalBytesEstimate > 0 {
		total, estimated = ev.TotalBytesEstimate, true
	}

	percent := Percent(ev.DownloadedBytes, total)

	return b.registry.Update(b.jobID, func(j *job.Job) error {
		switch j.Status {
		case job.StatusStarting:
			j.Status = job.StatusDownloading
		case job.StatusDownloading:
		default:
			// Later streams of a merged download arrive after the first
			// "finished"; progress already reads 100 and stays there.
			return nil
		}

		if percent > j.Progress {
			j.Progress = percent
		}

		if ev.DownloadedBytes > j.DownloadedBytes {
			j.DownloadedBytes = ev.DownloadedBytes
		}

		// An exact size replaces an estimate. Otherwise the reported size
		// only grows.
		switch {
		case ev.TotalBytes > 0 && (j.TotalEstimated || ev.TotalBytes > j.TotalBytes):
			j.TotalBytes, j.TotalEstimated = ev.TotalBytes, false
		case estimated && (j.TotalBytes == 0 || j.TotalEstimated) && total > j.TotalBytes:
			j.TotalBytes, j.TotalEstimated = total, true
		}

		return nil
	})
}

func (b *Bridge) finished() error {
	if err := b.registry.Update(b.jobID, func(j *job.Job) error {
		if j.Status == job.StatusStarting {
			j.Status = job.StatusDownloading
		}

		return nil
	}); err != nil {
		return err
	}

	return b.registry.Update(b.jobID, func(j *job.Job) error {
		if j.Status != job.StatusDownloading {
			return nil
		}

		j.Status = job.StatusProcessing
		j.Progress = 100

		if j.TotalBytes > 0 && j.DownloadedBytes < j.TotalBytes && !j.TotalEstimated {
			j.DownloadedBytes = j.TotalBytes
		}

		return nil
	})
}

// Percent returns downloaded/total as a percentage rounded to one decimal
// and clamped to [0,100]. An unknown total yields 0.
func Percent(downloaded, total int64) float64 {
	if total <= 0 || downloaded <= 0 {
		return 0
	}

	p := float64(downloaded) / float64(total) * 100
	if p > 100 {
		p = 100
	}

	return math.Round(p*10) / 10
}
