package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
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

// StatusCode maps the error code onto an HTTP status.
func (e *AppError) StatusCode() int {
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrPermissionDenied:
		return http.StatusForbidden
	case ErrInvalidState, ErrAlreadyResponding:
		return http.StatusConflict
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrPermissionDenied
	ErrInternal
	ErrUnavailable
	ErrInvalidState
	ErrAlreadyResponding
	ErrUnknown
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

func PermissionDenied(message string) *AppError {
	return &AppError{
		Code:    ErrPermissionDenied,
		Message: message,
	}
}

func Unavailable(message string, err error) *AppError {
	return &AppError{
		Code:    ErrUnavailable,
		Message: message,
		Err:     err,
	}
}

func InvalidState(message string) *AppError {
	return &AppError{
		Code:    ErrInvalidState,
		Message: message,
	}
}

// AlreadyResponding is returned to a late acceptor when another responder won the alert.
func AlreadyResponding(alertID string) *AppError {
	return &AppError{
		Code:    ErrAlreadyResponding,
		Message: fmt.Sprintf("alert %s already has a responder", alertID),
	}
}

// CodeOf returns the code of the first AppError in err's chain, or ErrUnknown.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrUnknown
}

// HasCode reports whether err carries the given code. AlreadyResponding also
// counts as InvalidState.
func HasCode(err error, code ErrorCode) bool {
	got := CodeOf(err)
	if got == code {
		return true
	}
	return code == ErrInvalidState && got == ErrAlreadyResponding
}

func IsNotFound(err error) bool { return HasCode(err, ErrNotFound) }

func IsInvalidState(err error) bool { return HasCode(err, ErrInvalidState) }

func IsPermissionDenied(err error) bool { return HasCode(err, ErrPermissionDenied) }

func IsUnavailable(err error) bool { return HasCode(err, ErrUnavailable) }
