// Package apperror carries errors that know how they should surface to an
// HTTP caller.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
	ErrUpstream   = errors.New("upstream error")
)

type AppError struct {
	Err     error  // sentinel the error matches
	Message string // safe to show the caller
	Field   string // request field at fault, if any
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource string, id any) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %v", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict is used when the request collides with work already in flight.
func Conflict(message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Upstream wraps a failure talking to the activity provider. The cause is
// kept for errors.Is but its text is not exposed.
func Upstream(message string, cause error) *AppError {
	return &AppError{
		Err:     errors.Join(ErrUpstream, cause),
		Message: message,
	}
}
