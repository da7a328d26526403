package newsletter

import (
	"errors"
	"fmt"
)

// Sentinel errors for the newsletter service layer.
var (
	ErrValidation     = errors.New("invalid publish request")
	ErrAuthentication = errors.New("authentication required")
)

// ValidationError names the form field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
