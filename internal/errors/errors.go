package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Pairing & linking
	ErrCodeAllocationExhausted ErrorCode = "CODE_ALLOCATION_EXHAUSTED"
	ErrCodeCodeNotFound        ErrorCode = "CODE_NOT_FOUND"
	ErrCodeLinkIDMismatch      ErrorCode = "LINK_ID_MISMATCH"
	ErrCodeSessionNotLinked    ErrorCode = "SESSION_NOT_LINKED"
	ErrCodeLinkNotFound        ErrorCode = "LINK_NOT_FOUND"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeRelay    ErrorCode = "RELAY_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

// CodeAllocationExhausted signals that the bounded retry loop could not find
// a free pairing code. The caller should retry later.
func CodeAllocationExhausted(attempts int) *AppError {
	return New(ErrCodeAllocationExhausted,
		fmt.Sprintf("no unused pairing code found after %d attempts", attempts))
}

// CodeNotFound covers both an unknown code and an expired one: neither is
// distinguishable to the redeeming wallet.
func CodeNotFound() *AppError {
	return New(ErrCodeCodeNotFound, "No unexpired pairing code matches")
}

func LinkIDMismatch() *AppError {
	return New(ErrCodeLinkIDMismatch, "Supplied link id does not match this pairing")
}

func SessionNotLinked() *AppError {
	return New(ErrCodeSessionNotLinked, "Session not linked")
}

func LinkNotFound(clientToken string) *AppError {
	return New(ErrCodeLinkNotFound, "No link for client token").
		WithDetails(map[string]string{"clientToken": clientToken})
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

func Relay(cause error) *AppError {
	return Wrap(ErrCodeRelay, "Relay error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}
