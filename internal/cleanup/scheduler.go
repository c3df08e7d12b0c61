// Package cleanup removes job artifacts from disk and their entries from the
// registry, either after the retention window or immediately.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/italolelis/mediafetch/internal/job"
	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/italolelis/mediafetch/internal/storage"
	"github.com/italolelis/mediafetch/internal/telemetry"
)

// Reasons reported in logs and metrics.
const (
	ReasonRetention = "retention"
	ReasonCancelled = "cancelled"
	ReasonError     = "error"
	ReasonRetry     = "retry"
)

const defaultRetryDelay = time.Minute

// Task is a pending deletion. Cancelling it keeps the job and its file.
type Task struct {
	jobID string
	timer *time.Timer
	s     *Scheduler
}

// JobID returns the id the task will clean up.
func (t *Task) JobID() string {
	return t.jobID
}

// Cancel stops the task and reports whether it was still pending.
func (t *Task) Cancel() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if t.s.tasks[t.jobID] != t {
		return false
	}

	delete(t.s.tasks, t.jobID)

	return t.timer.Stop()
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLedger marks removed artifacts in the ledger.
func WithLedger(ledger storage.ArtifactWriteRepository) Option {
	return func(s *Scheduler) { s.ledger = ledger }
}

// WithTelemetry records cleanup outcomes.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(s *Scheduler) { s.telemetry = tel }
}

// WithRetryDelay sets how long to wait before retrying a failed removal.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

// Scheduler runs deferred and immediate artifact deletions.
type Scheduler struct {
	ctx        context.Context
	registry   *job.Registry
	ledger     storage.ArtifactWriteRepository
	telemetry  *telemetry.Telemetry
	retryDelay time.Duration

	mu      sync.Mutex
	tasks   map[string]*Task
	stopped bool
}

// NewScheduler creates a scheduler. ctx supplies the logger and is passed to the ledger.
func NewScheduler(ctx context.Context, registry *job.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		ctx:        ctx,
		registry:   registry,
		retryDelay: defaultRetryDelay,
		tasks:      make(map[string]*Task),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Schedule deletes the job's artifact and entry after delay. A task already
// pending for the same job is replaced. After Stop it returns nil.
func (s *Scheduler) Schedule(jobID string, delay time.Duration, reason string) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}

	if prev, ok := s.tasks[jobID]; ok {
		prev.timer.Stop()
	}

	t := &Task{jobID: jobID, s: s}
	t.timer = time.AfterFunc(delay, func() { s.fire(t, reason) })
	s.tasks[jobID] = t

	return t
}

// Purge deletes the job's artifact and entry now, cancelling any pending task.
// On a removal failure the entry is kept and a retry is scheduled.
func (s *Scheduler) Purge(jobID, reason string) error {
	s.mu.Lock()
	if t, ok := s.tasks[jobID]; ok {
		t.timer.Stop()
		delete(s.tasks, jobID)
	}
	s.mu.Unlock()

	return s.remove(jobID, reason)
}

// Pending reports whether a deletion is scheduled for jobID.
func (s *Scheduler) Pending(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.tasks[jobID]

	return ok
}

// Stop cancels every pending task. Files of cancelled tasks stay on disk
// and are picked up by SweepOrphans on the next start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true

	for id, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, id)
	}
}

func (s *Scheduler) fire(t *Task, reason string) {
	s.mu.Lock()
	if s.tasks[t.jobID] != t {
		s.mu.Unlock()

		return
	}

	delete(s.tasks, t.jobID)
	s.mu.Unlock()

	_ = s.remove(t.jobID, reason)
}

func (s *Scheduler) remove(jobID, reason string) error {
	logger := logctx.LoggerFromContext(s.ctx).With("job_id", jobID, "reason", reason)

	j, err := s.registry.Get(jobID)
	if errors.Is(err, job.ErrNotFound) {
		return nil
	}

	if err != nil {
		return err
	}

	if err := RemoveArtifact(j.FilePath); err != nil {
		logger.Error("failed to remove artifact, will retry", "file", j.FilePath, "err", err, "retry_in", s.retryDelay)
		s.telemetry.RecordCleanup(reason, "error")
		s.Schedule(jobID, s.retryDelay, ReasonRetry)

		return err
	}

	if s.ledger != nil {
		if err := s.ledger.MarkRemoved(s.ctx, jobID); err != nil {
			logger.Warn("failed to mark artifact removed", "err", err)
		}
	}

	s.registry.Delete(jobID)
	s.telemetry.RecordCleanup(reason, "success")

	logger.Info("job cleaned up", "status", j.Status)

	return nil
}

// RemoveArtifact deletes the artifact and any partial or intermediate files
// sharing its base name (e.g. "<id>.mp4.part", "<id>.f137.mp4"). Missing
// files are not an error.
func RemoveArtifact(path string) error {
	if path == "" {
		return nil
	}

	var errs []error

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, err)
	}

	base := strings.TrimSuffix(path, filepath.Ext(path))

	leftovers, err := filepath.Glob(escapeGlob(base) + ".*")
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to list partial files: %w", err))
	}

	for _, f := range leftovers {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `\`, `\\`)

	return r.Replace(s)
}
