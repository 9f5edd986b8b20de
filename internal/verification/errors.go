package verification

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable code set surfaced to client integrations.
type ErrorCode string

const (
	CodeNotFound            ErrorCode = "not_found"
	CodeForbidden           ErrorCode = "forbidden"
	CodeInvalidArgument     ErrorCode = "invalid_argument"
	CodeInvalidState        ErrorCode = "invalid_state"
	CodeProviderUnavailable ErrorCode = "provider_unavailable"
	CodeExhausted           ErrorCode = "exhausted"
	CodeInternal            ErrorCode = "internal"
)

// Error is a domain error carrying a stable code.
type Error struct {
	Code    ErrorCode
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

// NewError creates a domain error with a code and message.
func NewError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps an underlying error with a code and message.
func WrapError(code ErrorCode, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the error code, defaulting to internal for unknown errors.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
