package cleanup_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/mediafetch/internal/cleanup"
	"github.com/italolelis/mediafetch/internal/job"
)

type fakeLedger struct {
	mu      sync.Mutex
	removed []string
}

func (l *fakeLedger) TrackArtifact(context.Context, string, string, string) error { return nil }

func (l *fakeLedger) MarkRemoved(_ context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.removed = append(l.removed, jobID)

	return nil
}

func (l *fakeLedger) Removed() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.removed...)
}

func setup(t *testing.T, opts ...cleanup.Option) (*cleanup.Scheduler, *job.Registry, string) {
	t.Helper()

	registry := job.NewRegistry()
	s := cleanup.NewScheduler(context.Background(), registry, opts...)
	t.Cleanup(s.Stop)

	return s, registry, t.TempDir()
}

func addJob(t *testing.T, registry *job.Registry, dir, id string) string {
	t.Helper()

	path := filepath.Join(dir, id+".mp4")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))

	_, err := registry.Create(job.Job{ID: id, FilePath: path, FinalFilename: "video_720p.mp4", StartTime: time.Now()})
	require.NoError(t, err)

	return path
}

func TestScheduler_ScheduleFires(t *testing.T) {
	ledger := &fakeLedger{}
	s, registry, dir := setup(t, cleanup.WithLedger(ledger))
	path := addJob(t, registry, dir, "a")

	task := s.Schedule("a", 10*time.Millisecond, cleanup.ReasonRetention)
	require.NotNil(t, task)
	assert.Equal(t, "a", task.JobID())
	assert.True(t, s.Pending("a"))

	require.Eventually(t, func() bool { return registry.Len() == 0 }, time.Second, 5*time.Millisecond)

	assert.NoFileExists(t, path)
	assert.False(t, s.Pending("a"))
	assert.Equal(t, []string{"a"}, ledger.Removed())
}

func TestScheduler_CancelKeepsJob(t *testing.T) {
	s, registry, dir := setup(t)
	path := addJob(t, registry, dir, "a")

	task := s.Schedule("a", 20*time.Millisecond, cleanup.ReasonRetention)
	assert.True(t, task.Cancel())
	assert.False(t, task.Cancel())

	time.Sleep(50 * time.Millisecond)

	assert.FileExists(t, path)
	assert.Equal(t, 1, registry.Len())
	assert.False(t, s.Pending("a"))
}

func TestScheduler_RescheduleReplacesTask(t *testing.T) {
	s, registry, dir := setup(t)
	addJob(t, registry, dir, "a")

	first := s.Schedule("a", time.Hour, cleanup.ReasonRetention)
	s.Schedule("a", 10*time.Millisecond, cleanup.ReasonRetention)

	assert.False(t, first.Cancel(), "replaced task is no longer pending")
	require.Eventually(t, func() bool { return registry.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_PurgeRemovesNow(t *testing.T) {
	s, registry, dir := setup(t)
	path := addJob(t, registry, dir, "a")

	s.Schedule("a", time.Hour, cleanup.ReasonRetention)

	require.NoError(t, s.Purge("a", cleanup.ReasonCancelled))

	assert.NoFileExists(t, path)
	assert.False(t, s.Pending("a"))

	_, err := registry.Get("a")
	require.ErrorIs(t, err, job.ErrNotFound)

	assert.NoError(t, s.Purge("a", cleanup.ReasonCancelled), "purging an unknown job is a no-op")
}

func TestScheduler_PurgeMissingFile(t *testing.T) {
	s, registry, dir := setup(t)
	path := addJob(t, registry, dir, "a")
	require.NoError(t, os.Remove(path))

	require.NoError(t, s.Purge("a", cleanup.ReasonError))
	assert.Equal(t, 0, registry.Len())
}

func TestScheduler_RetriesFailedRemoval(t *testing.T) {
	s, registry, dir := setup(t, cleanup.WithRetryDelay(50*time.Millisecond))

	// A non-empty directory in place of the artifact makes the removal fail.
	path := filepath.Join(dir, "a.mp4")
	require.NoError(t, os.MkdirAll(filepath.Join(path, "locked"), 0o700))

	_, err := registry.Create(job.Job{ID: "a", FilePath: path, FinalFilename: "video_720p.mp4", StartTime: time.Now()})
	require.NoError(t, err)

	require.Error(t, s.Purge("a", cleanup.ReasonError))
	assert.Equal(t, 1, registry.Len(), "entry is kept until the file is gone")
	assert.True(t, s.Pending("a"))

	require.NoError(t, os.RemoveAll(filepath.Join(path, "locked")))

	require.Eventually(t, func() bool { return registry.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.NoDirExists(t, path)
}

func TestScheduler_StopCancelsPending(t *testing.T) {
	s, registry, dir := setup(t)
	path := addJob(t, registry, dir, "a")

	s.Schedule("a", 10*time.Millisecond, cleanup.ReasonRetention)
	s.Stop()

	assert.False(t, s.Pending("a"))
	assert.Nil(t, s.Schedule("a", time.Millisecond, cleanup.ReasonRetention))

	time.Sleep(30 * time.Millisecond)

	assert.FileExists(t, path)
	assert.Equal(t, 1, registry.Len())
}

func TestRemoveArtifact_RemovesPartialFiles(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"abc.mp4", "abc.mp4.part", "abc.f137.mp4", "abc.f140.m4a.ytdl", "other.mp4"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}

	require.NoError(t, cleanup.RemoveArtifact(filepath.Join(dir, "abc.mp4")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "other.mp4", entries[0].Name())

	assert.NoError(t, cleanup.RemoveArtifact(filepath.Join(dir, "abc.mp4")))
	assert.NoError(t, cleanup.RemoveArtifact(""))
}

func TestRemoveArtifact_GlobMetacharacters(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"a[1].mp4", "a[1].mp4.part", "a1.mp4.part"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}

	require.NoError(t, cleanup.RemoveArtifact(filepath.Join(dir, "a[1].mp4")))

	assert.NoFileExists(t, filepath.Join(dir, "a[1].mp4.part"))
	assert.FileExists(t, filepath.Join(dir, "a1.mp4.part"))
}
