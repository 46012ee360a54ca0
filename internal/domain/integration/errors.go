package integration

import (
	"errors"
	"fmt"
)

// Sentinel errors for integration domain operations.
var (
	// ErrUnknownType indicates an integration type name that is not supported.
	ErrUnknownType = errors.New("unknown integration type")

	// ErrMalformedURL indicates that a configured destination URL cannot be used.
	// Senders return it before any network I/O so the classifier maps it to
	// ConfigurationError.
	ErrMalformedURL = errors.New("malformed integration url")

	// ErrConfigurationMismatch indicates that a message carries a configuration
	// variant that does not belong to its integration type.
	ErrConfigurationMismatch = errors.New("configuration does not match integration type")

	// ErrValidationFailed indicates that validation checks have failed
	ErrValidationFailed = errors.New("validation failed")
)

// ValidationError represents a validation error with detailed field information.
// It implements the error interface and provides context about which field failed validation.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns a formatted error message for the validation error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// Unwrap lets callers match any ValidationError with errors.Is(err, ErrValidationFailed).
func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}
