package common

import (
	"errors"
	"fmt"
)

var (
	// ErrTimedOut is returned when a guarded operation misses its deadline.
	ErrTimedOut = errors.New("unable to complete within timeout")

	ErrStatusMismatch = errors.New("unexpected response status")
	ErrMalformedBody  = errors.New("malformed response body")

	// ErrMalformedEvent marks a bus payload that no key strategy accepts.
	ErrMalformedEvent = errors.New("malformed event payload")

	ErrURLResolution = errors.New("unable to resolve url")
)

// StatusMismatchError carries both sides of a failed status assertion.
type StatusMismatchError struct {
	URL      string
	Expected int
	Actual   int
}

func (e *StatusMismatchError) Error() string {
	return fmt.Sprintf("%s: expected %d, got %d (GET %s)", ErrStatusMismatch, e.Expected, e.Actual, e.URL)
}

func (e *StatusMismatchError) Unwrap() error {
	return ErrStatusMismatch
}
