package ai

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoBackend is returned when an invoker has no generator configured.
var ErrNoBackend = errors.New("ai backend is not configured")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or any error it wraps, was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RetryAfterError is a retryable error carrying the delay suggested by the backend.
type RetryAfterError struct {
	Err   error
	After time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.Err, e.After)
}

func (e *RetryAfterError) Unwrap() error { return e.Err }

// InvocationError is returned once the invoker gave up. Err is the last cause.
type InvocationError struct {
	Attempts int
	Err      error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("model invocation failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }
