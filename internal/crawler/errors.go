package crawler

import "errors"

var (
	// ErrDiscovery marks a fatal listing discovery failure.
	ErrDiscovery = errors.New("link discovery failed")
	// ErrHandoff marks a failed persistence handoff.
	ErrHandoff = errors.New("persistence handoff failed")
	// ErrInsufficientResults is returned when a run retains fewer results than
	// the configured minimum; nothing is persisted.
	ErrInsufficientResults = errors.New("insufficient results")
	// ErrSelectorNotFound is returned by sessions when a selector never matched.
	ErrSelectorNotFound = errors.New("selector not found")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. It returns nil for a nil err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
