package backfill

import (
	"errors"
	"fmt"
)

// ErrorKindIteration is the ErrorInfo kind recorded for failed iterations.
const ErrorKindIteration = "BackfillIterationError"

var (
	// ErrBackfillNotFound is returned when no backfill has the given id.
	ErrBackfillNotFound = errors.New("backfill not found")

	// ErrInvalidTransition is returned when a status change is not allowed
	// from the backfill's current status.
	ErrInvalidTransition = errors.New("invalid backfill status transition")

	// ErrInvalidTarget is returned when a submitted target selects nothing
	// or names unknown assets or partitions.
	ErrInvalidTarget = errors.New("invalid backfill target")
)

// IterationError reports a failed backfill iteration.
type IterationError struct {
	BackfillID string
	Err        error

	// Stack is set when the iteration panicked.
	Stack string
}

// Error implements the error interface.
func (e *IterationError) Error() string {
	return fmt.Sprintf("backfill %s iteration failed: %v", e.BackfillID, e.Err)
}

// Unwrap returns the underlying error.
func (e *IterationError) Unwrap() error {
	return e.Err
}

// IsIterationError reports whether err is or wraps an IterationError.
func IsIterationError(err error) bool {
	var ie *IterationError
	return errors.As(err, &ie)
}
