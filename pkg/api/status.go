package api

// Status is the state of a run, task or task instance.
type Status string

const (
	// StatusCreated default status, the item exists but is not yet eligible to run.
	StatusCreated Status = "CREATED"

	// StatusQueued status for instances waiting for resource budget.
	StatusQueued Status = "QUEUED"

	// StatusRunning status for items currently executing.
	StatusRunning Status = "RUNNING"

	// StatusCompleted status for items finished successfully.
	StatusCompleted Status = "COMPLETED"

	// StatusCached status for instances whose outputs were reused from a
	// previous run without re-invoking the command.
	StatusCached Status = "CACHED"

	// StatusFailed status for items that failed, directly or by propagation
	// from a failed ancestor.
	StatusFailed Status = "FAILED"

	// StatusCancelled status for items stopped before or during execution
	// because the run was aborted.
	StatusCancelled Status = "CANCELLED"
)

// Finished returns true if the status is final.
func (s Status) Finished() bool {
	for _, fs := range []Status{StatusCompleted, StatusCached, StatusFailed, StatusCancelled} {
		if s == fs {
			return true
		}
	}
	return false
}

// Succeeded returns true if the status satisfies downstream dependencies.
func (s Status) Succeeded() bool {
	return s == StatusCompleted || s == StatusCached
}
