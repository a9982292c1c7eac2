package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeBadGateway         ErrorCode = "BAD_GATEWAY"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Temporary reports whether retrying the failed call may succeed. Client
// errors other than rate limiting are permanent.
func (e *AppError) Temporary() bool {
	switch e.Code {
	case ErrCodeServiceUnavailable, ErrCodeBadGateway, ErrCodeRateLimit, ErrCodeInternal:
		return true
	}
	return false
}

func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	appErr := NewAppError(code, message, httpStatus)
	appErr.Cause = err
	return appErr
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// FromHTTPStatus maps an unexpected upstream response status onto an
// AppError.
func FromHTTPStatus(status int, message string) *AppError {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewAppError(ErrCodeUnauthorized, message, status)
	case status == http.StatusNotFound:
		return NewAppError(ErrCodeNotFound, message, status)
	case status == http.StatusTooManyRequests:
		return NewAppError(ErrCodeRateLimit, message, status)
	case status == http.StatusServiceUnavailable:
		return NewAppError(ErrCodeServiceUnavailable, message, status)
	case status >= 500:
		return NewAppError(ErrCodeBadGateway, message, status)
	default:
		return NewAppError(ErrCodeInvalidInput, message, status)
	}
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsCode reports whether err carries an AppError with the given code.
func IsCode(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}

// IsTemporary reports whether err is worth retrying. Errors that are not
// AppErrors, such as transport failures, are treated as temporary.
func IsTemporary(err error) bool {
	appErr := GetAppError(err)
	if appErr == nil {
		return true
	}
	return appErr.Temporary()
}
