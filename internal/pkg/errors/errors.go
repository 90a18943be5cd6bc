package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnreadableHandle signals a transient image handle that can no
	// longer be resolved to bytes (stale or from a previous process).
	ErrUnreadableHandle = errors.New("unreadable transient handle")
)
