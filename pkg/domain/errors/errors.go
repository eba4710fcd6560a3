package errors

import "errors"

var (
	// requested entity is not found.
	ErrMissing = errors.New("missing")

	// found more entities than expected.
	ErrTooMuch = errors.New("too much")
)
