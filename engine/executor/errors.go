package executor

import "errors"

var (
	// ErrExecutorClosed is returned by operations issued after Shutdown.
	ErrExecutorClosed = errors.New("executor closed")
	// ErrTaskExists is returned when AddTask is given an id already in use.
	ErrTaskExists = errors.New("task id already exists")
	// ErrTaskNotFound is returned when an operation names an unknown task.
	ErrTaskNotFound = errors.New("task not found")
	// ErrNotRetryable is returned by Retry when the task is missing, still
	// running, or not marked retryable.
	ErrNotRetryable = errors.New("task cannot be retried")
)
