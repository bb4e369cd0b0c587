package decode

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFormat indicates a format name Parse does not recognize.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// DecodeError reports a failure turning raw bytes into a tree.
type DecodeError struct {
	// Format is the source format ("json", "yaml").
	Format string

	// Message describes what went wrong.
	Message string

	// Cause is the underlying parser error, if any.
	Cause error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decode %s: %s: %v", e.Format, e.Message, e.Cause)
	}
	return fmt.Sprintf("decode %s: %s", e.Format, e.Message)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error { return e.Cause }

// newDecodeError creates a DecodeError.
func newDecodeError(format, message string, cause error) *DecodeError {
	return &DecodeError{Format: format, Message: message, Cause: cause}
}
