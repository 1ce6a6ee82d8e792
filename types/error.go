package types

import "fmt"

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

const (
	// ErrNotFound indicates an absent thread, run, checkpoint, or item.
	ErrNotFound ErrorCode = "NOT_FOUND"

	// ErrConflict indicates a reject-policy collision or duplicate-id
	// creation without do_nothing.
	ErrConflict ErrorCode = "CONFLICT"

	// ErrValidation indicates a malformed namespace, key, body, or
	// enumeration value.
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// ErrCancelled indicates a run terminated via interrupt or rollback.
	ErrCancelled ErrorCode = "CANCELLED"

	// ErrTimeout indicates the scheduler's hard deadline was exceeded.
	ErrTimeout ErrorCode = "TIMEOUT"

	// ErrExecution indicates the opaque computation failed.
	ErrExecution ErrorCode = "EXECUTION_ERROR"

	// ErrInternal indicates an unexpected engine failure.
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// GetErrorCode extracts the error code from an error, unwrapping as needed.
func GetErrorCode(err error) ErrorCode {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
