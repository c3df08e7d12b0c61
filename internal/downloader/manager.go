// Package downloader runs download jobs: it admits requests, drives the fetch
// backend in a worker per job, maps backend progress onto the job registry and
// hands finished artifacts to the cleanup scheduler.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/italolelis/mediafetch/internal/cleanup"
	"github.com/italolelis/mediafetch/internal/fetch"
	"github.com/italolelis/mediafetch/internal/job"
	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/italolelis/mediafetch/internal/storage"
	"github.com/italolelis/mediafetch/internal/telemetry"
)

const (
	defaultResolution = 1080
	defaultFormat     = "mp4"
	defaultRetention  = 10 * time.Minute
	eventBufferSize   = 64
)

// Cleaner removes finished jobs. *cleanup.Scheduler satisfies it.
type Cleaner interface {
	Schedule(jobID string, delay time.Duration, reason string) *cleanup.Task
	Purge(jobID, reason string) error
}

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	DownloadDir       string
	Format            string
	DefaultResolution int
	Retention         time.Duration
	ProbeTimeout      time.Duration
	// FetchTimeout bounds a whole fetch. Zero means no limit.
	FetchTimeout time.Duration
	// MaxActiveJobs caps concurrently running workers. Zero means unbounded.
	MaxActiveJobs int
	// InstanceID tags ledger records so a later run can find orphans.
	InstanceID string

	Ledger    storage.ArtifactWriteRepository
	Telemetry *telemetry.Telemetry

	Now   func() time.Time
	NewID func() string
}

// StartRequest is a submission.
type StartRequest struct {
	URL string
	// Resolution is "720", "720p" or empty for the default.
	Resolution string
	SessionID  string
}

// Manager owns the lifecycle of every job.
type Manager struct {
	ctx         context.Context
	registry    *job.Registry
	coordinator *Coordinator
	backend     fetch.Backend
	cleaner     Cleaner
	opts        Options

	wg     sync.WaitGroup
	active atomic.Int64

	// mu orders wg.Add in Start against Wait; once closing is set no new
	// worker is spawned.
	mu        sync.Mutex
	closing   bool
	closeOnce sync.Once

	// OnJobFinished receives a snapshot of every job that reached a terminal
	// status. Sends never block; events are dropped when nobody reads.
	OnJobFinished chan job.Job
}

// NewManager creates a manager. Workers inherit ctx, so cancelling it aborts
// every running fetch.
func NewManager(ctx context.Context, registry *job.Registry, backend fetch.Backend, cleaner Cleaner, opts Options) *Manager {
	if opts.Format == "" {
		opts.Format = defaultFormat
	}

	if opts.DefaultResolution == 0 {
		opts.DefaultResolution = defaultResolution
	}

	if opts.Retention == 0 {
		opts.Retention = defaultRetention
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	return &Manager{
		ctx:           ctx,
		registry:      registry,
		coordinator:   NewCoordinator(registry, opts.Now),
		backend:       backend,
		cleaner:       cleaner,
		opts:          opts,
		OnJobFinished: make(chan job.Job, eventBufferSize),
	}
}

// Start validates the request, looks up the title, registers the job and
// launches its worker. It returns as soon as the job is registered.
func (m *Manager) Start(ctx context.Context, req StartRequest) (string, error) {
	logger := logctx.LoggerFromContext(ctx)

	rawURL := strings.TrimSpace(req.URL)
	if err := ValidateURL(rawURL); err != nil {
		return "", err
	}

	resolution, err := ParseResolution(req.Resolution, m.opts.DefaultResolution)
	if err != nil {
		return "", err
	}

	if m.isClosing() {
		return "", ErrShuttingDown
	}

	if m.full() {
		return "", ErrTooManyJobs
	}

	title := genericTitle

	meta, err := m.probe(ctx, rawURL)
	if err != nil {
		logger.Warn("failed to look up title, using generic name", "url", rawURL, "err", err)
	} else if strings.TrimSpace(meta.Title) != "" {
		title = meta.Title
	}

	if !m.reserve() {
		return "", ErrTooManyJobs
	}

	if !m.addWorker() {
		m.active.Add(-1)

		return "", ErrShuttingDown
	}

	id := m.opts.NewID()
	j := job.Job{
		ID:            id,
		URL:           rawURL,
		Resolution:    resolution,
		Title:         title,
		Status:        job.StatusStarting,
		FilePath:      filepath.Join(m.opts.DownloadDir, id+"."+m.opts.Format),
		FinalFilename: DisplayFilename(title, resolution, m.opts.Format),
		SessionID:     req.SessionID,
		StartTime:     m.opts.Now(),
	}

	id, superseded, err := m.coordinator.Admit(req.SessionID, func() (string, error) {
		return m.registry.Create(j)
	})
	if err != nil {
		m.active.Add(-1)
		m.wg.Done()

		return "", fmt.Errorf("failed to register job: %w", err)
	}

	if superseded != "" {
		logger.Info("superseded previous session job", "session_id", req.SessionID, "previous_job_id", superseded, "job_id", id)
	}

	if m.opts.Ledger != nil {
		if err := m.opts.Ledger.TrackArtifact(ctx, id, j.FilePath, m.opts.InstanceID); err != nil {
			logger.Warn("failed to track artifact", "job_id", id, "err", err)
		}
	}

	logger.Info("job started", "job_id", id, "url", rawURL, "resolution", resolution, "title", title)

	go m.run(id)

	return id, nil
}

// Status returns a snapshot of the job.
func (m *Manager) Status(id string) (job.Job, error) {
	return m.registry.Get(id)
}

// Jobs returns snapshots of every registered job.
func (m *Manager) Jobs() []job.Job {
	return m.registry.List()
}

// StatusCounts returns how many registered jobs are in each status.
func (m *Manager) StatusCounts() map[string]int {
	counts := make(map[string]int)
	for _, j := range m.registry.List() {
		counts[string(j.Status)]++
	}

	return counts
}

// Cancel requests cancellation. The worker stops at its next progress event.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	if err := m.coordinator.RequestCancel(id); err != nil {
		return err
	}

	logctx.LoggerFromContext(ctx).Info("job cancellation requested", "job_id", id)

	return nil
}

// Probe returns the media metadata for rawURL without fetching it.
func (m *Manager) Probe(ctx context.Context, rawURL string) (fetch.Metadata, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := ValidateURL(rawURL); err != nil {
		return fetch.Metadata{}, err
	}

	meta, err := m.probe(ctx, rawURL)
	if err != nil {
		var extractErr *fetch.ExtractionError
		if !errors.As(err, &extractErr) {
			err = &fetch.ExtractionError{URL: rawURL, Reason: err.Error(), Err: err}
		}

		return fetch.Metadata{}, err
	}

	return meta, nil
}

// ActiveJobs returns the number of running workers.
func (m *Manager) ActiveJobs() int {
	return int(m.active.Load())
}

// Wait stops admitting jobs, blocks until every worker has returned, then
// closes OnJobFinished. Start returns ErrShuttingDown from then on. Calling
// Wait again is safe.
func (m *Manager) Wait() {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()

	m.wg.Wait()
	m.closeOnce.Do(func() { close(m.OnJobFinished) })
}

func (m *Manager) isClosing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closing
}

// addWorker registers a worker with the wait group unless Wait has begun.
func (m *Manager) addWorker() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closing {
		return false
	}

	m.wg.Add(1)

	return true
}

func (m *Manager) full() bool {
	limit := int64(m.opts.MaxActiveJobs)

	return limit > 0 && m.active.Load() >= limit
}

// reserve claims a worker slot. The probe runs before the slot is claimed, so
// the cap is checked again here.
func (m *Manager) reserve() bool {
	n := m.active.Add(1)
	if limit := int64(m.opts.MaxActiveJobs); limit > 0 && n > limit {
		m.active.Add(-1)

		return false
	}

	return true
}

func (m *Manager) probe(ctx context.Context, rawURL string) (fetch.Metadata, error) {
	if m.opts.ProbeTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, m.opts.ProbeTimeout)
		defer cancel()
	}

	return m.backend.Probe(ctx, rawURL)
}

func (m *Manager) run(id string) {
	defer m.wg.Done()
	defer m.active.Add(-1)

	ctx := logctx.WithJobID(m.ctx, id)
	logger := logctx.LoggerFromContext(ctx)

	j, err := m.registry.Get(id)
	if err != nil {
		logger.WarnContext(ctx, "job vanished before its worker started", "err", err)

		return
	}

	status := job.Status(m.opts.Telemetry.InstrumentJob(ctx, func(ctx context.Context) string {
		return string(m.execute(ctx, j))
	}))

	final, err := m.registry.Get(id)
	if err == nil {
		logger.InfoContext(ctx, "job finished",
			"status", final.Status,
			"elapsed", final.Elapsed(m.opts.Now()).Round(time.Millisecond),
			"error", final.ErrorMessage,
		)
		m.publish(ctx, final)
	}

	switch status {
	case job.StatusCompleted:
		task := m.cleaner.Schedule(id, m.opts.Retention, cleanup.ReasonRetention)
		if task == nil {
			logger.WarnContext(ctx, "cleanup scheduler stopped, artifact left for the next sweep")
			return
		}

		logger.DebugContext(ctx, "artifact cleanup scheduled", "task", task.JobID(), "in", m.opts.Retention)
	case job.StatusCancelled:
		_ = m.cleaner.Purge(id, cleanup.ReasonCancelled)
	default:
		_ = m.cleaner.Purge(id, cleanup.ReasonError)
	}
}

func (m *Manager) execute(ctx context.Context, j job.Job) (status job.Status) {
	logger := logctx.LoggerFromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "worker panicked", "panic", r, "stack", string(debug.Stack()))
			m.opts.Telemetry.RecordSystemError("worker", "panic")
			status = m.fail(j.ID, fmt.Errorf("internal error: %v", r))
		}
	}()

	fetchCtx := ctx
	if m.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc

		fetchCtx, cancel = context.WithTimeout(ctx, m.opts.FetchTimeout)
		defer cancel()
	}

	bridge := NewBridge(m.registry, j.ID, j.Token)

	err := m.backend.Fetch(fetchCtx, fetch.Request{
		URL:        j.URL,
		Resolution: j.Resolution,
		OutputPath: j.FilePath,
		Format:     m.opts.Format,
	}, bridge.Handle)

	if j.Token.Cancelled() || errors.Is(err, fetch.ErrCancelled) {
		return m.cancelled(j.ID)
	}

	if err != nil {
		logger.ErrorContext(ctx, "fetch failed", "err", err)

		return m.fail(j.ID, err)
	}

	size, err := verifyArtifact(j.FilePath)
	if err != nil {
		logger.ErrorContext(ctx, "fetch reported success without an artifact", "err", err)

		return m.fail(j.ID, err)
	}

	status = m.complete(j.ID)
	if status == job.StatusCompleted {
		logger.InfoContext(ctx, "artifact ready", "file", j.FilePath, "size", humanize.Bytes(uint64(size)))
	}

	return status
}

// complete walks the job through any intermediate statuses to completed. If
// the job reached a terminal status in the meantime, that status wins.
func (m *Manager) complete(id string) job.Status {
	next := map[job.Status]job.Status{
		job.StatusStarting:    job.StatusDownloading,
		job.StatusDownloading: job.StatusProcessing,
		job.StatusProcessing:  job.StatusCompleted,
	}

	for {
		var current job.Status

		err := m.registry.Update(id, func(j *job.Job) error {
			current = j.Status
			if j.Status.IsTerminal() {
				return nil
			}

			j.Status = next[j.Status]
			if j.Status == job.StatusCompleted {
				j.Progress = 100
				j.FinishedAt = m.opts.Now()
			}

			current = j.Status

			return nil
		})
		if err != nil {
			return m.fail(id, err)
		}

		if current.IsTerminal() {
			return current
		}
	}
}

func (m *Manager) cancelled(id string) job.Status {
	final := job.StatusCancelled

	_ = m.registry.Update(id, func(j *job.Job) error {
		if j.Status.IsTerminal() {
			final = j.Status

			return nil
		}

		j.Status = job.StatusCancelled
		j.FinishedAt = m.opts.Now()
		j.Token.Cancel()

		return nil
	})

	return final
}

func (m *Manager) fail(id string, cause error) job.Status {
	final := job.StatusError

	_ = m.registry.Update(id, func(j *job.Job) error {
		if j.Status.IsTerminal() {
			final = j.Status

			return nil
		}

		j.Status = job.StatusError
		j.ErrorMessage = cause.Error()
		j.FinishedAt = m.opts.Now()

		return nil
	})

	return final
}

func (m *Manager) publish(ctx context.Context, j job.Job) {
	select {
	case m.OnJobFinished <- j:
	default:
		logctx.LoggerFromContext(ctx).DebugContext(ctx, "dropping job event, no reader")
	}
}

func verifyArtifact(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, &PostconditionError{Path: path, Reason: "artifact missing", Err: err}
	}

	if info.IsDir() {
		return 0, &PostconditionError{Path: path, Reason: "artifact is a directory"}
	}

	if info.Size() == 0 {
		return 0, &PostconditionError{Path: path, Reason: "artifact is empty"}
	}

	return info.Size(), nil
}
