// Package errors provides error handling utilities for the gomint client.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeNetwork represents transport-level failures
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeTimeout represents deadline expiry on a remote call
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeValidation represents invalid input or configuration
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeLedger represents an error returned by the ledger node or contract
	ErrorTypeLedger ErrorType = "ledger"
	// ErrorTypeUnavailable means a round snapshot could not be fetched
	ErrorTypeUnavailable ErrorType = "unavailable"
	// ErrorTypeSubmission means a mint was not accepted
	ErrorTypeSubmission ErrorType = "submission"
	// ErrorTypeStale means the round advanced under a snapshot
	ErrorTypeStale ErrorType = "stale"
	// ErrorTypeDatabase represents history/cache store errors
	ErrorTypeDatabase ErrorType = "database"
	// ErrorTypeKafka represents event stream errors
	ErrorTypeKafka ErrorType = "kafka"
	// ErrorTypeInternal represents internal/unknown errors
	ErrorTypeInternal ErrorType = "internal"
)

// ServiceError represents a structured error with context
type ServiceError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]any
	Timestamp time.Time
	Retryable bool
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s operation '%s' failed: %s (caused by: %v)", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s operation '%s' failed: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying cause for error unwrapping
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns whether this error should be retried
func (e *ServiceError) IsRetryable() bool {
	return e.Retryable
}

// WithContext adds additional context to the error
func (e *ServiceError) WithContext(key string, value any) *ServiceError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates a new ServiceError
func New(errorType ErrorType, operation, message string) *ServiceError {
	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: isRetryableByType(errorType),
	}
}

// Wrap wraps an existing error with context. A wrapped ServiceError keeps
// its retryability; any other cause is classified by type first and then
// by its message.
func Wrap(err error, errorType ErrorType, operation, message string) *ServiceError {
	if err == nil {
		return nil
	}

	retryable := isRetryableByType(errorType) || isRetryableByDefault(err)
	var se *ServiceError
	if errors.As(err, &se) {
		retryable = se.Retryable
	}
	if errors.Is(err, context.Canceled) {
		retryable = false
	}

	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Cause:     err,
		Timestamp: time.Now(),
		Retryable: retryable,
	}
}

// Unavailable wraps a failed snapshot read.
func Unavailable(operation string, err error) *ServiceError {
	se := Wrap(err, ErrorTypeUnavailable, operation, "round snapshot unavailable")
	if se == nil {
		return New(ErrorTypeUnavailable, operation, "round snapshot unavailable")
	}
	se.Retryable = true
	return se
}

// Submission wraps a failed or rejected mint.
func Submission(operation, message string, err error) *ServiceError {
	var se *ServiceError
	if err == nil {
		se = New(ErrorTypeSubmission, operation, message)
	} else {
		se = Wrap(err, ErrorTypeSubmission, operation, message)
	}
	se.Retryable = true
	return se
}

// Stale reports that the ledger round moved from expected to current.
func Stale(operation string, expected, current uint64) *ServiceError {
	return New(ErrorTypeStale, operation, "round advanced").
		WithContext("expected_round", expected).
		WithContext("current_round", current)
}

// isRetryableByType determines if an error type is generally retryable
func isRetryableByType(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeKafka,
		ErrorTypeUnavailable, ErrorTypeSubmission, ErrorTypeStale:
		return true
	default:
		return false
	}
}

// isRetryableByDefault checks if an error is retryable based on common patterns
func isRetryableByDefault(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	transient := []string{
		"connection refused",
		"connection reset",
		"network unreachable",
		"timeout",
		"temporary failure",
		"too many requests",
		"429",
		"502 bad gateway",
		"503 service unavailable",
		"eof",
	}

	for _, s := range transient {
		if strings.Contains(errStr, s) {
			return true
		}
	}

	return false
}

// IsType checks if an error is of a specific type. Only the outermost
// ServiceError in the chain is considered.
func IsType(err error, errorType ErrorType) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Type == errorType
	}
	return false
}

// HasType reports whether any ServiceError in the chain has errorType.
func HasType(err error, errorType ErrorType) bool {
	for err != nil {
		var se *ServiceError
		if !errors.As(err, &se) {
			return false
		}
		if se.Type == errorType {
			return true
		}
		err = se.Cause
	}
	return false
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.IsRetryable()
	}
	return isRetryableByDefault(err)
}

// GetContext retrieves context from a ServiceError
func GetContext(err error) map[string]any {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Context
	}
	return nil
}
