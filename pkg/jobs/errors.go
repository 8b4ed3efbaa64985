package jobs

import "errors"

var (
	// ErrForbidden is returned when the caller does not own the job, project or workspace.
	ErrForbidden = errors.New("forbidden")
	// ErrAlreadyFinished is returned when cancelling a job in a terminal state.
	ErrAlreadyFinished = errors.New("job already finished")
	// ErrNotCancellable is returned when a task job has already started.
	ErrNotCancellable = errors.New("job is running and cannot be cancelled")
)
