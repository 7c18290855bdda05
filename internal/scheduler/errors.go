package scheduler

import (
	"errors"
	"fmt"

	"github.com/roach88/cadence/internal/ir"
)

// EvaluationError reports a failure evaluating one asset during a tick.
type EvaluationError struct {
	Asset ir.AssetKey

	// Err is the underlying failure. For recovered panics it wraps the
	// panic value.
	Err error

	// Stack is the goroutine stack captured for recovered panics.
	Stack string
}

// Error implements the error interface.
func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate %s: %v", e.Asset, e.Err)
}

// Unwrap returns the underlying error.
func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// IsEvaluationError reports whether err is or wraps an EvaluationError.
func IsEvaluationError(err error) bool {
	var ee *EvaluationError
	return errors.As(err, &ee)
}

// errPanic wraps a recovered panic value.
type errPanic struct {
	value any
}

func (e errPanic) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}
