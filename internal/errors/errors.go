// Package errors provides the coded error type used across the service.
// Handlers map codes to HTTP statuses; services never format statuses
// themselves.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code classifies an error for transport mapping and logging.
type Code string

const (
	ErrCodeValidation         Code = "VALIDATION"
	ErrCodeNotFound           Code = "NOT_FOUND"
	ErrCodeForbidden          Code = "FORBIDDEN"
	ErrCodeConflict           Code = "CONFLICT"
	ErrCodeRulesNotConfigured Code = "RULES_NOT_CONFIGURED"
	ErrCodeAmbiguousRouting   Code = "AMBIGUOUS_ROUTING"
	ErrCodeDependency         Code = "DEPENDENCY_FAILURE"
	ErrCodeInternal           Code = "INTERNAL"
)

// Error is a coded error, optionally wrapping a cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return Newf(ErrCodeNotFound, "%s not found: %s", resource, id)
}

// InvalidInput reports a malformed or missing input field.
func InvalidInput(field, message string) *Error {
	return Newf(ErrCodeValidation, "invalid %s: %s", field, message)
}

// Forbidden reports an authorization failure.
func Forbidden(message string) *Error {
	return New(ErrCodeForbidden, message)
}

// CodeOf extracts the code from an error chain, defaulting to internal.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// MessageOf extracts the coded message from an error chain. Uncoded errors
// are reported generically so internals never leak to clients.
func MessageOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps an error to the response status the workflow API uses.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeValidation, ErrCodeRulesNotConfigured, ErrCodeAmbiguousRouting:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
