// Package errors provides structured errors for smart-notes.
// Every error carries a stable code so callers (HTTP layer, CLI) can map
// failures to responses without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
)

// NoteError is the structured error type used across the engine and store.
type NoteError struct {
	// Code is the unique error code (e.g., "ERR_DIMENSION_MISMATCH").
	Code string

	// Message is the human-readable error message.
	Message string

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates whether the operation may succeed on retry.
	Retryable bool

	// Suggestion is an actionable hint for the operator.
	Suggestion string
}

// Error implements the error interface.
func (e *NoteError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *NoteError) Unwrap() error {
	return e.Cause
}

// Is matches by code so errors.Is works across wrapped instances.
func (e *NoteError) Is(target error) bool {
	if t, ok := target.(*NoteError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithSuggestion attaches an actionable suggestion. Returns the error for chaining.
func (e *NoteError) WithSuggestion(s string) *NoteError {
	e.Suggestion = s
	return e
}

// New creates a NoteError with the given code and message.
// The retryable flag is derived from the code.
func New(code, message string, cause error) *NoteError {
	return &NoteError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a NoteError with a formatted message.
func Newf(code string, format string, args ...any) *NoteError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates a NoteError from an existing error, keeping it as the cause.
// Returns nil if err is nil.
func Wrap(code string, err error) *NoteError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Wrapf creates a NoteError with a formatted message, keeping err as the
// cause. Returns nil if err is nil.
func Wrapf(code string, err error, format string, args ...any) *NoteError {
	if err == nil {
		return nil
	}
	return New(code, fmt.Sprintf(format, args...), err)
}

// CodeOf extracts the error code from an error chain.
// Returns ErrCodeInternal for errors that are not NoteError.
func CodeOf(err error) string {
	var ne *NoteError
	if stderrors.As(err, &ne) {
		return ne.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether the error chain contains a retryable NoteError.
func IsRetryable(err error) bool {
	var ne *NoteError
	if stderrors.As(err, &ne) {
		return ne.Retryable
	}
	return false
}
