package services

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced domain or record does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError rejects a mutation synchronously because the input itself
// is malformed (bad subdomain format, bad record content, reserved name).
// These never enter the job queue.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// ConflictError rejects a mutation synchronously because it collides with
// existing state: duplicate subdomain, duplicate record tuple, or an
// exceeded limit.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

func validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func conflictf(format string, args ...any) *ConflictError {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
