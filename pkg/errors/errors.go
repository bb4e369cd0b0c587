// Package errors defines shared error values and the structured error type
// used across the messaging layer.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidJob indicates that a job envelope is incomplete or malformed
	ErrInvalidJob = errors.New("invalid job")

	// ErrPublishFailed indicates that a message could not be published after retries
	ErrPublishFailed = errors.New("publish failed")

	// ErrNoBlobStorage indicates that a payload needed offloading but no blob storage is configured
	ErrNoBlobStorage = errors.New("no blob storage configured")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")
)

// Error represents a structured error with a machine-readable code
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsInvalidJob checks if an error stems from a malformed job envelope
func IsInvalidJob(err error) bool {
	return errors.Is(err, ErrInvalidJob)
}

// IsNoBlobStorage checks if an error stems from missing blob storage
func IsNoBlobStorage(err error) bool {
	return errors.Is(err, ErrNoBlobStorage)
}
