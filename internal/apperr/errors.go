package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the machine-stable error surfaced in the HTTP error envelope.
type Error struct {
	Code      string
	Message   string
	Status    int
	Retryable bool
	Details   map[string]any
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// Wrap returns a copy of e that records cause for logging. The cause is never
// serialized to the caller.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

func New(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

func Validation(code, message string) *Error {
	return New(code, message, http.StatusBadRequest)
}

func Unauthorized(code, message string) *Error {
	return New(code, message, http.StatusUnauthorized)
}

func NotFound(code, message string) *Error {
	return New(code, message, http.StatusNotFound)
}

func RateLimited(details map[string]any) *Error {
	return &Error{
		Code:      CodeRateLimited,
		Message:   "Rate limit exceeded",
		Status:    http.StatusTooManyRequests,
		Retryable: true,
		Details:   details,
	}
}

// Internal hides cause behind a generic message.
func Internal(cause error) *Error {
	return &Error{
		Code:      CodeInternal,
		Message:   "Unexpected server error",
		Status:    http.StatusInternalServerError,
		Retryable: true,
		Err:       cause,
	}
}

// As extracts an *Error from err, falling back to Internal.
func As(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}
