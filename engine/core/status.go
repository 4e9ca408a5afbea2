package core

// StatusType represents the lifecycle state of a task.
type StatusType string

const (
	StatusPending   StatusType = "PENDING"
	StatusRunning   StatusType = "RUNNING"
	StatusCompleted StatusType = "COMPLETED"
	StatusFailed    StatusType = "FAILED"
	StatusCanceled  StatusType = "CANCELED"
)

func (s StatusType) String() string {
	return string(s)
}

// IsTerminal reports whether the status admits no further transitions
// (short of a retry, which replaces the node entirely).
func (s StatusType) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsDismissible reports whether the status requires an explicit remove
// or retry before the node leaves the registry.
func (s StatusType) IsDismissible() bool {
	return s == StatusFailed || s == StatusCanceled
}
