package executor

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is a programmer's error, like unknown tables or columns.
	ErrConfiguration = errors.New("configuration error")

	// ErrDuplicateKey is a violation of primary key (or other unique constraints).
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrTransient is a fault of network, driver or backend which may be resolved by retrying.
	ErrTransient = errors.New("transient backend error")

	// ErrServiceUnavailable means the backend does not work even after retries.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrInjected is raised by fault injection.
	ErrInjected = fmt.Errorf("%w: injected fault", ErrTransient)
)

// BackendError is an error from the backend which is not retried.
type BackendError struct {
	Label string
	Class FailureClass
	Err   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Label, e.Class, e.Err)
}

func (e *BackendError) Unwrap() []error {
	switch e.Class {
	case DuplicateKey:
		return []error{ErrDuplicateKey, e.Err}
	case FastFail:
		return []error{ErrConfiguration, e.Err}
	default:
		return []error{ErrTransient, e.Err}
	}
}

// ExhaustedRetriesError is returned when all attempts are failed.
type ExhaustedRetriesError struct {
	Label    string
	Attempts int
	Last     error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf(
		"%s: %s after %d attempts: %s",
		e.Label, ErrServiceUnavailable, e.Attempts, e.Last,
	)
}

func (e *ExhaustedRetriesError) Unwrap() []error {
	return []error{ErrServiceUnavailable, e.Last}
}
