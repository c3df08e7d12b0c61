package job

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNotFound is returned for ids that were never issued or were already cleaned up.
	ErrNotFound = errors.New("job not found")
	// ErrAlreadyTerminal is returned when an operation needs an active job.
	ErrAlreadyTerminal = errors.New("job already finished")
	// ErrInvalidTransition is returned when an update breaks the status state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrDuplicateID is returned by Create when the id is already registered.
	ErrDuplicateID = errors.New("job id already registered")
)

// Registry is the process-scoped store of job state. Every read-modify-write
// runs inside one critical section, and a job's cancel token and session
// binding are removed together with the job.
type Registry struct {
	mu       sync.RWMutex
	jobs     map[string]*Job
	sessions map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		jobs:     make(map[string]*Job),
		sessions: make(map[string]string),
	}
}

// Create stores j and returns its id. A token is attached when j has none.
func (r *Registry) Create(j Job) (string, error) {
	if j.ID == "" {
		return "", fmt.Errorf("job id is required")
	}

	if j.Status == "" {
		j.Status = StatusStarting
	}

	if j.Token == nil {
		j.Token = NewCancelToken()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[j.ID]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateID, j.ID)
	}

	r.jobs[j.ID] = &j

	if j.SessionID != "" {
		r.sessions[j.SessionID] = j.ID
	}

	return j.ID, nil
}

// Get returns a copy of the job.
func (r *Registry) Get(id string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return *j, nil
}

// Update applies mutate to the stored job atomically. If mutate returns an
// error or moves the job along an edge the state machine does not allow, the
// job is left untouched.
func (r *Registry) Update(id string, mutate func(*Job) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	next := *current
	if err := mutate(&next); err != nil {
		return err
	}

	if next.ID != current.ID || next.FilePath != current.FilePath || next.FinalFilename != current.FinalFilename {
		return fmt.Errorf("job %s: immutable field changed", id)
	}

	if next.Status != current.Status && !current.Status.CanTransitionTo(next.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next.Status)
	}

	*current = next

	return nil
}

// Delete removes the job, its token and its session binding.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return
	}

	if j.SessionID != "" && r.sessions[j.SessionID] == id {
		delete(r.sessions, j.SessionID)
	}

	delete(r.jobs, id)
}

// SessionJob returns the most recent job bound to a session.
func (r *Registry) SessionJob(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.sessions[sessionID]

	return id, ok
}

// List returns copies of all jobs ordered by start time.
func (r *Registry) List() []Job {
	r.mu.RLock()

	jobs := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, *j)
	}

	r.mu.RUnlock()

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].StartTime.Before(jobs[k].StartTime)
	})

	return jobs
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.jobs)
}
