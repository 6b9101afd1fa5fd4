package errors

import (
	"fmt"
)

// Error is the structured error type for docfusion.
// It provides rich context for error handling, logging, and user presentation.
type Error struct {
	// Code is the unique error code (e.g., "ERR_401_INVALID_INPUT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with Error.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a new Error with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an Error from an existing error.
// The error's message becomes the Error message.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidParameter creates a validation error for a caller-supplied
// out-of-range parameter. Rejected before any retrieval work starts.
func InvalidParameter(message string) *Error {
	return New(ErrCodeInvalidInput, message, nil)
}

// Retrieval creates an error for a failed or timed-out sub-retriever,
// wrapping the underlying cause.
func Retrieval(message string, cause error) *Error {
	return New(ErrCodeRetrievalFailed, message, cause)
}

// IndexBuild creates an error for invalid keyword index build input.
func IndexBuild(message string, cause error) *Error {
	return New(ErrCodeIndexBuild, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is an Error with the Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if de, ok := err.(*Error); ok {
		return de.Retryable
	}
	return false
}

// GetCode extracts the error code from an Error.
// Returns empty string if not an Error.
func GetCode(err error) string {
	if de, ok := err.(*Error); ok {
		return de.Code
	}
	return ""
}

// GetCategory extracts the category from an Error.
// Returns empty string if not an Error.
func GetCategory(err error) Category {
	if de, ok := err.(*Error); ok {
		return de.Category
	}
	return ""
}
