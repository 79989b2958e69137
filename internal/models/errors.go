package models

import "errors"

var (
	// ErrNotFound indicates a grant, resource, or referenced target that does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied indicates the caller lacks the required admin rank.
	// It deliberately carries no detail about the resource involved.
	ErrPermissionDenied = errors.New("permission denied")
)

// ValidationError reports a request the caller can fix: a malformed target,
// an incoherent validity window, an empty bulk list.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}
