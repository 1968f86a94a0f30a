package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest rejects a request before any worker is spawned.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrCapacityExceeded rejects a request because the number of running
	// sessions has reached the configured ceiling. The caller may retry
	// once a session terminates; requests are never queued.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrNotFound is returned when an operation references an unknown or
	// already evicted session id.
	ErrNotFound = errors.New("session not found")

	// ErrRegistryClosed is returned by Create after the registry has begun
	// shutting down.
	ErrRegistryClosed = errors.New("registry closed")
)

// SpawnError reports that the isolation boundary for a worker could not be
// created. The owning session resolves it to a Failed terminal state.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawning worker: %v", e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

func invalidRequestf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
