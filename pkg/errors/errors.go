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

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrVersionConflict
)

// Sentinels returned by the storage layer.
var (
	ErrRecordNotFound = stderrors.New("record not found")
	ErrConflict       = stderrors.New("record was modified concurrently")
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

// NewValidation reports a user-correctable problem with a single field.
func NewValidation(field, reason string) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: fmt.Sprintf("invalid %s: %s", field, reason),
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

// Conflict reports a write lost to a concurrent change of resource.
func Conflict(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrVersionConflict,
		Message: fmt.Sprintf("%s was modified concurrently, reload and retry", resource),
		Err:     err,
	}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsNotFound reports whether err is a not-found application error or the
// storage sentinel.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrRecordNotFound) {
		return true
	}
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == ErrNotFound
}

// IsValidation reports whether err is a bad-request application error.
func IsValidation(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == ErrBadRequest
}

// HTTPStatus maps err onto the status code the API responds with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrVersionConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-safe message for err.
func Message(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		if appErr.Code == ErrInternal {
			return appErr.Message
		}
		return appErr.Error()
	}
	return "internal server error"
}
