package service

import (
	"errors"
	"fmt"
)

// ValidationError reports client-side input rejection: malformed handles,
// mismatched passwords, unreconciled custom splits, disallowed payment-flag
// edits. It never reaches the backend.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// validationf builds a ValidationError from a format string.
func validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
