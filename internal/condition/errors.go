package condition

import (
	"errors"
	"fmt"
)

// ErrMalformedCondition is returned when a condition tree is built with the
// wrong number of children or an invalid parameter.
var ErrMalformedCondition = errors.New("malformed condition")

// MalformedError describes why a condition could not be constructed.
type MalformedError struct {
	Kind    Kind
	Message string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s condition: %s", e.Kind, e.Message)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformedCondition
}

// IsMalformed reports whether err is a *MalformedError.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}

func malformed(kind Kind, format string, args ...any) error {
	return &MalformedError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
