package trace

import (
	"errors"
	"fmt"
)

// InvariantError reports the violation of an engine invariant, such as a batch inserted out of
// order or a frontier moving backwards. It signals a bug in how operators are wired and is
// raised as a panic with Fatalf; the scope running the operator recovers it and aborts.
type InvariantError struct {
	Message string
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	return "invariant violation: " + e.Message
}

// Fatalf panics with an InvariantError.
func Fatalf(format string, args ...any) {
	panic(&InvariantError{Message: fmt.Sprintf(format, args...)})
}

// IsInvariantError reports whether err wraps an InvariantError.
func IsInvariantError(err error) bool {
	var e *InvariantError
	return errors.As(err, &e)
}
