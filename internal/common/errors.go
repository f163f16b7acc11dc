// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Pipeline error taxonomy.
	ErrTransient           = errors.New("transient external failure")
	ErrDataIntegrity       = errors.New("data integrity failure")
	ErrConfiguration       = errors.New("configuration failure")
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// Analysis errors.
	ErrNoRecords      = errors.New("no records to analyze")
	ErrAnalysisFailed = errors.New("analysis failed")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// NewIntegrityError wraps a description of malformed data as ErrDataIntegrity.
func NewIntegrityError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDataIntegrity, fmt.Sprintf(format, args...))
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Integrity and configuration failures never heal on their own
	if errors.Is(err, ErrDataIntegrity) || errors.Is(err, ErrConfiguration) {
		return false
	}

	// A layer that already spent its retry budget is not retried again
	if errors.Is(err, ErrMaxRetries) {
		return false
	}

	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrConcurrencyConflict) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
