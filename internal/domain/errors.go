package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Common domain errors
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")

	// Cache errors
	ErrCacheFull      = errors.New("cache is full")
	ErrAlreadyStarted = errors.New("loader already started")
	ErrNotStarted     = errors.New("loader not started")

	// Entry errors
	ErrFileTooLarge   = errors.New("file exceeds maximum cached file size")
	ErrInvalidState   = errors.New("invalid entry state")
	ErrVariantLocked  = errors.New("variant can only be set on an empty entry")
	ErrEntryDestroyed = errors.New("entry has been destroyed")
	ErrIncomplete     = errors.New("entry is not fully cached")

	// Transfer errors
	ErrBadContentRange = errors.New("malformed content-range header")
	ErrRangeMismatch   = errors.New("response range does not match cached length")
	ErrInterrupted     = errors.New("download interrupted")
)

// SkippableError represents an error that can be logged and skipped.
// The entry keeps its current state and is not scheduled again.
type SkippableError struct {
	Err     error
	Context string
}

// Error returns the error message
func (e *SkippableError) Error() string {
	if e.Context != "" {
		if e.Err != nil {
			return e.Context + ": " + e.Err.Error()
		}
		return e.Context
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "skippable error"
}

// Unwrap returns the underlying error
func (e *SkippableError) Unwrap() error {
	return e.Err
}

// NewSkippableError creates a new skippable error
func NewSkippableError(err error, context string) *SkippableError {
	return &SkippableError{Err: err, Context: context}
}

// IsSkippable returns true if the error can be skipped
func IsSkippable(err error) bool {
	var se *SkippableError
	return errors.As(err, &se)
}

// RetryableError represents a transient failure (network, server side)
// that should put the entry back at the front of the queue.
type RetryableError struct {
	Err error
}

// Error returns the error message
func (e *RetryableError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "retryable error"
}

// Unwrap returns the underlying error
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err}
}

// IsRetryable returns true if the error should be retried
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// HTTPStatusError is returned for responses other than 200 and 206.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	URL        string
}

// Error returns the error message
func (e *HTTPStatusError) Error() string {
	status := e.Status
	if status == "" {
		status = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("http error %d %s for url %s", e.StatusCode, status, e.URL)
}

// Classify wraps the status error as retryable for server errors and
// skippable for everything else.
func (e *HTTPStatusError) Classify() error {
	if e.StatusCode >= http.StatusInternalServerError {
		return NewRetryableError(e)
	}
	return NewSkippableError(e, "client error")
}
