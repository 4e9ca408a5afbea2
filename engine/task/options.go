package task

import "time"

// Options controls how the executor may act on a task.
type Options struct {
	Cancellable bool          `json:"is_cancellable"`
	Pausable    bool          `json:"is_pausable"`
	Timeout     time.Duration `json:"timeout,omitempty"` // zero means no timeout
	Retryable   bool          `json:"can_retry"`
}

// DefaultOptions is the preset for ordinary background work: the user can
// cancel it but not pause it.
func DefaultOptions() Options {
	return Options{Cancellable: true}
}

// ImmutableOptions is the preset for work that must run to completion
// untouched.
func ImmutableOptions() Options {
	return Options{}
}

// InteractiveOptions is the preset for user-facing work that can be both
// paused and canceled.
func InteractiveOptions() Options {
	return Options{Cancellable: true, Pausable: true}
}

// WithTimeout returns a copy of o with the given timeout set.
func (o Options) WithTimeout(d time.Duration) Options {
	o.Timeout = d
	return o
}

// WithRetry returns a copy of o that allows retrying after failure.
func (o Options) WithRetry() Options {
	o.Retryable = true
	return o
}
