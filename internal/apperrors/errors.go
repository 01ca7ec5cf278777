// Package apperrors provides structured application errors with CLI exit code mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrPreprocessing = errors.New("preprocessing failed")
	ErrUnimplemented = errors.New("not implemented")
	ErrInternal      = errors.New("internal error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "queue", "payload")
	Resource string // For not found/conflict (e.g., "queue", "filesystem")
	Op       string // Operation that failed (e.g., "batch.SubmitJob")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause, so errors.Is matches the
// class and errors.As still reaches SDK error types.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  reason,
		Resource: resource,
	}
}

// Preprocessing reports a workflow document that could not be translated.
func Preprocessing(op string, cause error) error {
	return &Error{
		Sentinel: ErrPreprocessing,
		Message:  fmt.Sprintf("error while preprocessing workflow (%s): %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Unimplemented reports a recognised but unsupported feature.
func Unimplemented(feature string) error {
	return &Error{
		Sentinel: ErrUnimplemented,
		Message:  feature + " is not implemented",
		Field:    feature,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
