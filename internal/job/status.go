package job

// Status is the lifecycle state of a download job.
type Status string

const (
	StatusStarting    Status = "starting"
	StatusDownloading Status = "downloading"
	StatusProcessing  Status = "processing"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
	StatusCancelled   Status = "cancelled"
)

// transitions lists the states reachable from each non-terminal state.
var transitions = map[Status][]Status{
	StatusStarting:    {StatusDownloading, StatusCancelled, StatusError},
	StatusDownloading: {StatusProcessing, StatusCancelled, StatusError},
	StatusProcessing:  {StatusCompleted, StatusCancelled, StatusError},
}

func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true for completed, error and cancelled.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// IsActive returns true while a worker still owns the job.
func (s Status) IsActive() bool {
	return s == StatusStarting || s == StatusDownloading || s == StatusProcessing
}

// CanTransitionTo reports whether next is reachable from s in one step.
// Staying in the same state is always allowed for non-terminal states.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return !s.IsTerminal()
	}

	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}
