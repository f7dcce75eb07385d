// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across client, service and repository layers.
var (
	// ErrUnauthenticated indicates a scoped operation was attempted without a live session.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied indicates the caller may not touch the addressed resource.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNetwork indicates a transient transport failure. Not retried by this layer.
	ErrNetwork = errors.New("network error")

	// ErrValidation indicates malformed input, detected before any network call where possible.
	ErrValidation = errors.New("validation")

	// ErrInvalidCredentials indicates a failed sign-in.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEmailAlreadyInUse indicates another account owns the email.
	ErrEmailAlreadyInUse = errors.New("email already in use")

	// ErrRequiresReauthentication indicates a sensitive operation needs a fresh sign-in.
	ErrRequiresReauthentication = errors.New("requires reauthentication")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = errors.New("already exists")

	// ErrVersionConflict indicates a conditional update lost its precondition.
	ErrVersionConflict = errors.New("version conflict")
)

// FieldError is a validation failure attached to one input field.
type FieldError struct {
	Field string
	Msg   string
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Msg)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

// Is makes every FieldError match ErrValidation.
func (e *FieldError) Is(target error) bool { return target == ErrValidation }

// Validation builds a FieldError.
func Validation(field, msg string) error {
	return &FieldError{Field: field, Msg: msg}
}
