// Package errors provides the typed error model shared by the service layers.
//
// Every error produced by the engine carries a Code so that transports can map
// it to an HTTP status or a gRPC status without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code classifies an error.
type Code string

const (
	ErrCodeInternal      Code = "INTERNAL"
	ErrCodeNotFound      Code = "NOT_FOUND"
	ErrCodeInvalidInput  Code = "INVALID_INPUT"
	ErrCodeConflict      Code = "CONFLICT"
	ErrCodeUnauthorized  Code = "UNAUTHORIZED"
	ErrCodeForbidden     Code = "FORBIDDEN"
	ErrCodeConfiguration Code = "CONFIGURATION_ERROR"
	ErrCodeUnavailable   Code = "UNAVAILABLE"
)

// Error is the concrete error type carried across package boundaries.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail attaches a key/value to the error and returns it.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an error with the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a code and message. A nil err yields nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return Newf(ErrCodeNotFound, "%s not found: %s", resource, id).WithDetail("resource", resource)
}

// InvalidInput reports a bad field value.
func InvalidInput(field, message string) *Error {
	return New(ErrCodeInvalidInput, message).WithDetail("field", field)
}

// Configuration reports a workflow definition that cannot be executed.
func Configuration(format string, args ...interface{}) *Error {
	return Newf(ErrCodeConfiguration, format, args...)
}

// Forbidden reports an actor that may not perform the operation.
func Forbidden(format string, args ...interface{}) *Error {
	return Newf(ErrCodeForbidden, format, args...)
}

// Conflict reports an operation not permitted in the current state.
func Conflict(format string, args ...interface{}) *Error {
	return Newf(ErrCodeConflict, format, args...)
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrCodeInternal when there is none.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// HTTPStatus maps an error to an HTTP status code.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeConfiguration:
		return http.StatusUnprocessableEntity
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Is and As re-export the standard helpers so callers need one import.
var (
	Is = stderrors.Is
	As = stderrors.As
)
