package core

import "fmt"

// -----------------------------------------------------------------------------
// Error Structure
// -----------------------------------------------------------------------------

// Error is the envelope attached to a failed or canceled task. Code is a
// stable machine-readable kind; Details carries an opaque payload for
// collaborators (renderers, fetch helpers) that must not be compared for
// equality.
type Error struct {
	Message string         `json:"message,omitempty"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError wraps err into the envelope with the given code and details.
func NewError(err error, code string, details map[string]any) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: err.Error(),
		Code:    code,
		Details: details,
	}
}
