package gateway

import (
	"errors"
	"fmt"
)

// RetryableError lets an error declare whether another attempt can help.
type RetryableError interface {
	error
	ShouldRetry() bool
}

// TransientError wraps a failure worth retrying: connection errors, timeouts,
// and 502/503/504 responses.
type TransientError struct {
	Underlying error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient backend error: %v", e.Underlying)
}

// ShouldRetry implements RetryableError.
func (e *TransientError) ShouldRetry() bool { return true }

func (e *TransientError) Unwrap() error { return e.Underlying }

// RejectedError is a definitive backend rejection (4xx). It carries the HTTP
// status and the backend's own reason; it is never retried.
type RejectedError struct {
	Status  int
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend rejected request (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend rejected request (%d)", e.Status)
}

// ShouldRetry implements RetryableError.
func (e *RejectedError) ShouldRetry() bool { return false }

// IsTransient reports whether err (anywhere in its chain) is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsRejected reports whether err is a definitive backend rejection, and
// returns it when so.
func IsRejected(err error) (*RejectedError, bool) {
	var re *RejectedError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
