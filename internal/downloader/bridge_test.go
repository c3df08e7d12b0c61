package downloader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/mediafetch/internal/fetch"
	"github.com/italolelis/mediafetch/internal/job"
)

func newBridgeJob(t *testing.T) (*job.Registry, *Bridge) {
	t.Helper()

	registry := job.NewRegistry()
	token := job.NewCancelToken()

	_, err := registry.Create(job.Job{ID: "j1", FilePath: "/tmp/j1.mp4", StartTime: time.Now(), Token: token})
	require.NoError(t, err)

	return registry, NewBridge(registry, "j1", token)
}

func get(t *testing.T, registry *job.Registry) job.Job {
	t.Helper()

	j, err := registry.Get("j1")
	require.NoError(t, err)

	return j
}

func TestPercent(t *testing.T) {
	tests := []struct {
		name              string
		downloaded, total int64
		want              float64
	}{
		{name: "half", downloaded: 50, total: 100, want: 50},
		{name: "rounds to one decimal", downloaded: 1, total: 3, want: 33.3},
		{name: "unknown total", downloaded: 50, total: 0, want: 0},
		{name: "overshoot clamps", downloaded: 150, total: 100, want: 100},
		{name: "nothing yet", downloaded: 0, total: 100, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Percent(tt.downloaded, tt.total), 0.0001)
		})
	}
}

func TestBridge_DownloadingUpdatesProgress(t *testing.T) {
	registry, b := newBridgeJob(t)

	require.NoError(t, b.Handle(fetch.ProgressEvent{Phase: fetch.PhaseDownloading, DownloadedBytes: 25, TotalBytes: 200}))

	j := get(t, registry)
	assert.Equal(t, job.StatusDownloading, j.Status)
	assert.InDelta(t, 12.5, j.Progress, 0.0001)
	assert.Equal(t, int64(25), j.DownloadedBytes)
	assert.Equal(t, int64(200), j.TotalBytes)
	assert.False(t, j.TotalEstimated)
}

func TestBridge_EstimateFallback(t *testing.T) {
	registry, b := newBridgeJob(t)

	require.NoError(t, b.Handle(fetch.ProgressEvent{Phase: fetch.PhaseDownloading, DownloadedBytes: 10, TotalBytesEstimate: 40}))

	j := get(t, registry)
	assert.InDelta(t, 25.0, j.Progress, 0.0001)
	assert.Equal(t, int64(40), j.TotalBytes)
	assert.True(t, j.TotalEstimated)

	// An exact size replaces the estimate.
	require.NoError(t, b.Handle(fetch.ProgressEvent{Phase: fetch.PhaseDownloading, DownloadedBytes: 20, TotalBytes: 50}))

	j = get(t, registry)
	assert.Equal(t, int64(50), j.TotalBytes)
	assert.False(t, j.TotalEstimated)

	// A later estimate does not replace an exact size.
	require.NoError(t, b.Handle(fetch.ProgressEvent{Phase: fetch.PhaseDownloading, DownloadedBytes: 30, TotalBytesEstimate: 80}))

	j = get(t, registry)
	assert.Equal(t, int64(50), j.TotalBytes)
	assert.False(t, j.TotalEstimated)
}

func TestBridge_TotalNeverShrinks(t *testing.T) {
	registry, b := newBridgeJob(t)

	require.NoError(t, b.Handle(fetch.ProgressEvent{Phase: fetch.PhaseDownloading, DownloadedBytes: 10, TotalBytes: 1000}))
	require.NoError(t, b.Handle(fetch.ProgressEvent{Phase: fetch.PhaseDownloading, DownloadedBytes: 20, TotalBytes: 900}))
	assert.Equal(t, int64(1000), get(t, registry).TotalBytes)

	registry, b = newBridgeJob(t)

	require.NoError(t, b.Handle(fetch.ProgressEvent{Phase: fetch.PhaseDownloading, DownloadedBytes: 10, TotalBytesEstimate: 1000}))
	require.NoError(t, b.Handle(fetch.ProgressEvent{Phase: fetch.PhaseDownloading, DownloadedBytes: 20, TotalBytesEstimate: 900}))

	j := get(t, registry)
	assert.Equal(t, int64(1000), j.TotalBytes)
	assert.True(t, j.TotalEstimated)

	// The exact size wins even when it is below the estimate.
	require.NoError(t, b.Handle(fetch.ProgressEvent{Phase: fetch.PhaseDownloading, DownloadedBytes: 30, TotalBytes: 950}))

	j = get(t, registry)
	assert.Equal(t, int64(950), j.TotalBytes)
	assert.False(t, j.TotalEstimated)
}

func TestBridge_NoTotalLeavesProgressAtZero(t *testing.T) {
	registry, b := newBridgeJob(t)

	require.NoError(t, b.Handle(fetch.ProgressEvent{Phase: fetch.PhaseDownloading, DownloadedBytes: 10}))

	j := get(t, registry)
	assert.Equal(t, job.StatusDownloading, j.Status)
	assert.Zero(t, j.Progress)
	assert.Equal(t, int64(10), j.DownloadedBytes)
}

func TestBridge_ProgressNeverRegresses(t *testing.T) {
	registry, b := newBridgeJob(t)

	require.NoError(t, b.Handle(fetch.ProgressEvent{Phase: fetch.PhaseDownloading, DownloadedBytes: 80, TotalBytes: 100}))
	require.NoError(t, b.Handle(fetch.ProgressEvent{Phase: fetch.PhaseDownloading, DownloadedBytes: 40, TotalBytes: 100}))

	j := get(t, registry)
	assert.InDelta(t, 80.0, j.Progress, 0.0001)
	assert.Equal(t, int64(80), j.DownloadedBytes)
}

func TestBridge_FinishedFromStarting(t *testing.T) {
	registry, b := newBridgeJob(t)

	require.NoError(t, b.Handle(fetch.ProgressEvent{Phase: fetch.PhaseFinished}))

	j := get(t, registry)
	assert.Equal(t, job.StatusProcessing, j.Status)
	assert.InDelta(t, 100.0, j.Progress, 0.0001)
}

func TestBridge_DownloadingAfterFinishedIsIgnored(t *testing.T) {
	registry, b := newBridgeJob(t)

	require.NoError(t, b.Handle(fetch.ProgressEvent{Phase: fetch.PhaseDownloading, DownloadedBytes: 100, TotalBytes: 100}))
	require.NoError(t, b.Handle(fetch.ProgressEvent{Phase: fetch.PhaseFinished}))
	require.NoError(t, b.Handle(fetch.ProgressEvent{Phase: fetch.PhaseDownloading, DownloadedBytes: 5, TotalBytes: 300}))
	require.NoError(t, b.Handle(fetch.ProgressEvent{Phase: fetch.PhaseFinished}))

	j := get(t, registry)
	assert.Equal(t, job.StatusProcessing, j.Status)
	assert.InDelta(t, 100.0, j.Progress, 0.0001)
	assert.Equal(t, int64(100), j.TotalBytes)
}

func TestBridge_CancelledTokenAborts(t *testing.T) {
	registry, b := newBridgeJob(t)

	b.token.Cancel()

	err := b.Handle(fetch.ProgressEvent{Phase: fetch.PhaseDownloading, DownloadedBytes: 1, TotalBytes: 2})
	require.ErrorIs(t, err, fetch.ErrCancelled)

	j := get(t, registry)
	assert.Equal(t, job.StatusStarting, j.Status)
	assert.Zero(t, j.Progress)
}

func TestBridge_UnknownPhaseIgnored(t *testing.T) {
	registry, b := newBridgeJob(t)

	require.NoError(t, b.Handle(fetch.ProgressEvent{Phase: "post_processing"}))
	assert.Equal(t, job.StatusStarting, get(t, registry).Status)
}
