package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/compozy/taskforest/engine/core"
)

// ErrorKind classifies why a task reached a terminal failure state.
// Classification is explicit rather than by comparing error values, since
// subtask causes are opaque payloads.
type ErrorKind string

const (
	KindCanceled ErrorKind = "canceled"
	KindTimeout  ErrorKind = "timeout"
	KindFailure  ErrorKind = "failure"
)

// ErrCanceled is the cooperative cancellation signal observed by task
// bodies through Report.
var ErrCanceled = errors.New("task canceled")

// TimeoutError is raised when a task's configured timeout elapses before
// an explicit cancel. It carries enough for callers to distinguish "timed
// out" from "user canceled".
type TimeoutError struct {
	TaskID  core.ID
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s timed out after %s", e.TaskID, e.Timeout)
}

// SubtaskError wraps a failure thrown out of a Push-spawned body, carrying
// the underlying cause up to the caller of Push.
type SubtaskError struct {
	TaskID core.ID
	Name   string
	Err    error
}

func (e *SubtaskError) Error() string {
	return fmt.Sprintf("subtask %q (%s) failed: %v", e.Name, e.TaskID, e.Err)
}

func (e *SubtaskError) Unwrap() error {
	return e.Err
}

// Kind classifies err into the task error taxonomy.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindFailure
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return KindTimeout
	}
	if errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindFailure
}

// AsEnvelope converts err into the core error envelope stored on a node.
func AsEnvelope(err error) *core.Error {
	if err == nil {
		return nil
	}
	details := map[string]any{}
	var te *TimeoutError
	if errors.As(err, &te) {
		details["task_id"] = te.TaskID.String()
		details["timeout"] = te.Timeout.String()
	}
	var se *SubtaskError
	if errors.As(err, &se) {
		details["subtask_id"] = se.TaskID.String()
		details["subtask_name"] = se.Name
	}
	if len(details) == 0 {
		details = nil
	}
	return core.NewError(err, string(Kind(err)), details)
}
