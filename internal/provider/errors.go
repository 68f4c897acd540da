package provider

import (
	"errors"
	"fmt"
)

// ErrServerNotFound reports a stop for a process the backend no longer knows.
// Callers treat the server as already stopped.
var ErrServerNotFound = errors.New("server not found")

// Error is a failure reported by a backend itself, as opposed to a transport
// failure reaching it. The orchestrator treats both the same way when
// deciding whether to fall back.
type Error struct {
	Backend string
	Op      string
	Message string
	// Status is the HTTP status code, when the failure was a non-2xx response.
	Status int
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s failed", e.Backend, e.Op)
	}
	return fmt.Sprintf("%s: %s failed: %s", e.Backend, e.Op, e.Message)
}
