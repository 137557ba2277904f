package store

import (
	"errors"
	"fmt"
)

// Standard errors for store operations.
//
// Use errors.Is to check for these errors:
//
//	b, err := s.Update(ctx, key, limits, fn)
//	if errors.Is(err, store.ErrBackendUnavailable) {
//		// shared backend down, fall back to a local store
//	}
var (
	// ErrBackendUnavailable matches every *BackendUnavailableError.
	ErrBackendUnavailable = errors.New("store: backend unavailable")

	// ErrClosed is returned when operations are attempted on a closed store.
	ErrClosed = errors.New("store: store is closed")

	// ErrSerializationFailed is returned when a stored bucket cannot be decoded.
	ErrSerializationFailed = errors.New("store: serialization failed")

	// ErrConflict is returned when an optimistic update keeps losing to
	// concurrent writers.
	ErrConflict = errors.New("store: too many concurrent updates")
)

// BackendUnavailableError reports that a shared backend could not serve an
// operation: connection refused, timeout, lock not acquired.
type BackendUnavailableError struct {
	Err     error
	Backend string
	Op      string
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("store: %s backend unavailable during %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying backend error.
func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrBackendUnavailable.
func (e *BackendUnavailableError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

func unavailable(backend, op string, err error) error {
	return &BackendUnavailableError{Backend: backend, Op: op, Err: err}
}
