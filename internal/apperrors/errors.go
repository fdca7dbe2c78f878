// Package apperrors defines the application error types, modeled on the
// teacher's server/errors package: AppError carries its own HTTP status
// and keeps the underlying cause for logs without exposing it to
// clients; Fatal marks non-retryable failures. The HTTP trigger writes
// its status codes directly and does not use AppError; Fatal is used by
// the catalog schema check, the receiver reader and the parser registry.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is an error with an HTTP status code and a user-facing
// message distinct from the logged detail.
type AppError struct {
	Code    int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status code to send to the client.
func (e *AppError) StatusCode() int {
	return e.Code
}

// NewValidationError creates a 400 Bad Request.
func NewValidationError(message string, err error) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: message, Err: err}
}

// NewUnauthorizedError creates a 401 Unauthorized.
func NewUnauthorizedError(message string) *AppError {
	return &AppError{Code: http.StatusUnauthorized, Message: message}
}

// NewNotFoundError creates a 404 Not Found.
func NewNotFoundError(message string) *AppError {
	return &AppError{Code: http.StatusNotFound, Message: message}
}

// NewTooManyRequestsError creates a 429 Too Many Requests.
func NewTooManyRequestsError(message string) *AppError {
	return &AppError{Code: http.StatusTooManyRequests, Message: message}
}

// NewInternalError creates a 500 Internal Server Error. The detail is
// kept only in Err for logging; Message is the public-facing text.
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    http.StatusInternalServerError,
		Message: "internal server error",
		Err:     errors.Join(errors.New(message), err),
	}
}

// Fatal marks an unrecoverable schema or configuration error: the
// caller must not retry. It is a plain sentinel-wrapping error, not an
// AppError, because fatal errors occur outside HTTP request handling
// (startup schema checks, unknown-parser lookups).
type Fatal struct {
	Err error
}

func (f *Fatal) Error() string { return f.Err.Error() }
func (f *Fatal) Unwrap() error { return f.Err }

// NewFatal wraps err as a Fatal.
func NewFatal(format string, args ...interface{}) *Fatal {
	return &Fatal{Err: fmt.Errorf(format, args...)}
}
