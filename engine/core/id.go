package core

import (
	"fmt"

	"github.com/segmentio/ksuid"
)

// ID identifies a task in the registry. Callers may supply their own
// (any non-empty string is accepted) or let the executor generate one.
type ID string

func (i ID) String() string {
	return string(i)
}

func (i ID) IsZero() bool {
	return i == ""
}

// NewID generates a new KSUID-backed ID.
func NewID() (ID, error) {
	id, err := ksuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate ID: %w", err)
	}
	return ID(id.String()), nil
}

// MustNewID is like NewID but panics on failure.
func MustNewID() ID {
	id, err := NewID()
	if err != nil {
		panic(err)
	}
	return id
}

// ParseID validates that s is a well-formed generated ID.
func ParseID(s string) (ID, error) {
	if s == "" {
		return "", fmt.Errorf("empty ID")
	}
	if _, err := ksuid.Parse(s); err != nil {
		return "", fmt.Errorf("invalid ID format: %w", err)
	}
	return ID(s), nil
}
