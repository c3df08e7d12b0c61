package downloader

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/italolelis/mediafetch/internal/job"
)

// Coordinator records cancellation requests and admits new jobs for a
// session, superseding whatever that session was running before.
type Coordinator struct {
	registry *job.Registry
	now      func() time.Time

	// admitMu serialises Admit so two submissions for one session cannot
	// both see the same predecessor.
	admitMu sync.Mutex
}

// NewCoordinator creates a coordinator over registry.
func NewCoordinator(registry *job.Registry, now func() time.Time) *Coordinator {
	if now == nil {
		now = time.Now
	}

	return &Coordinator{registry: registry, now: now}
}

// RequestCancel marks an active job cancelled and sets its token in the same
// critical section. The worker observes the token at its next progress
// event. Any terminal job, including one already cancelled, yields
// job.ErrAlreadyTerminal and is left untouched.
func (c *Coordinator) RequestCancel(id string) error {
	return c.registry.Update(id, func(j *job.Job) error {
		if j.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", job.ErrAlreadyTerminal, id, j.Status)
		}

		j.Status = job.StatusCancelled
		j.FinishedAt = c.now()
		j.Token.Cancel()

		return nil
	})
}

// IsCancelled reports whether the job's token is set. Unknown ids report false.
func (c *Coordinator) IsCancelled(id string) bool {
	j, err := c.registry.Get(id)
	if err != nil {
		return false
	}

	return j.Token.Cancelled()
}

// Admit cancels the job currently bound to sessionID, if any, then runs
// create. It returns the new id and the id of the superseded job.
func (c *Coordinator) Admit(sessionID string, create func() (string, error)) (string, string, error) {
	c.admitMu.Lock()
	defer c.admitMu.Unlock()

	var superseded string

	if sessionID != "" {
		if prev, ok := c.registry.SessionJob(sessionID); ok {
			err := c.RequestCancel(prev)

			switch {
			case err == nil:
				superseded = prev
			case errors.Is(err, job.ErrNotFound), errors.Is(err, job.ErrAlreadyTerminal):
			default:
				return "", "", fmt.Errorf("failed to supersede job %s: %w", prev, err)
			}
		}
	}

	id, err := create()
	if err != nil {
		return "", "", err
	}

	return id, superseded, nil
}
