package errors

import (
	"errors"
	"fmt"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrUpstream               = errors.New("upstream request failed")
	ErrNotFound               = errors.New("not found")
	ErrDuplicate              = errors.New("duplicate record")
	ErrForeignKey             = errors.New("referenced record does not exist")
	ErrStorage                = errors.New("storage failure")
	ErrDirectoryNotConfigured = errors.New("certificate directory is not configured")

	ErrCertificateNotFound = fmt.Errorf("certificate %w", ErrNotFound)
	ErrTeamNotFound        = fmt.Errorf("team %w", ErrNotFound)
	ErrMissingSearchParams = fmt.Errorf("%w: At least one search parameter is required", ErrValidation)

	ErrInvalidAddress     = errors.New("invalid address")
	ErrInvalidDatabaseURL = errors.New("invalid database url")
	ErrInvalidDriver      = errors.New("unsupported database driver")
	ErrInvalidDirectory   = errors.New("unsupported directory kind")
	ErrInvalidThreshold   = errors.New("invalid expiration threshold")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionExpired     = errors.New("session expired")
)

// ValidationError reports a rejected input field. It matches ErrValidation
// with errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field string, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Message returns the text shown to the caller for err. Validation and
// authorization failures keep their own wording; everything else keeps the
// wrapped chain so the operator sees the cause.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Message
	}
	if errors.Is(err, ErrMissingSearchParams) {
		return "At least one search parameter is required"
	}
	if errors.Is(err, ErrUnauthorized) {
		return "Unauthorized"
	}
	return err.Error()
}
