package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies a model endpoint failure.
type ErrorType string

const (
	ErrorTypeAuth     ErrorType = "auth"
	ErrorTypeEndpoint ErrorType = "endpoint"
	ErrorTypeModel    ErrorType = "model"
	ErrorTypeTimeout  ErrorType = "timeout"
	ErrorTypeUnknown  ErrorType = "unknown"
)

// Error represents a structured model endpoint error with classification.
type Error struct {
	Type      ErrorType // Classification of the error
	Message   string    // Human-readable message
	Retryable bool      // Whether the operation can be retried
	Cause     error     // Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements the retry.RetryableError interface.
// This allows the retry package to check retryability without importing llm.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// NewError creates a new structured model endpoint error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// ClassifyError categorizes an error and returns a structured Error.
// This consolidates error classification logic for consistent handling.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrorTypeTimeout, "model call timed out", true, err)
	}
	if errors.Is(err, context.Canceled) {
		return NewError(ErrorTypeTimeout, "model call canceled", false, err)
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "401") || strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "invalid api key"):
		return NewError(ErrorTypeAuth, "authentication failed", false, err)
	case strings.Contains(errStr, "404") || strings.Contains(errStr, "model not found") ||
		strings.Contains(errStr, "does not exist"):
		return NewError(ErrorTypeModel, "model not found", false, err)
	case strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests"):
		return NewError(ErrorTypeEndpoint, "rate limited", true, err)
	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "service unavailable"):
		return NewError(ErrorTypeEndpoint, "server error", true, err)
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "timed out") ||
		strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "connection reset"):
		return NewError(ErrorTypeTimeout, "endpoint unreachable", true, err)
	default:
		return NewError(ErrorTypeUnknown, "model call failed", false, err)
	}
}
