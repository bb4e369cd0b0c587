package flatten

import (
	"errors"
	"fmt"
)

// ErrDepthExceeded indicates that the input tree nests deeper than the
// configured MaxDepth. It is the only error the engine can produce.
var ErrDepthExceeded = errors.New("maximum nesting depth exceeded")

// DepthError reports where the depth limit was hit.
type DepthError struct {
	// Path is the flat key prefix accumulated when the limit was reached.
	Path string

	// Depth is the configured limit.
	Depth int
}

func (e *DepthError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("flatten: %v (limit %d) at root", ErrDepthExceeded, e.Depth)
	}
	return fmt.Sprintf("flatten: %v (limit %d) at %q", ErrDepthExceeded, e.Depth, e.Path)
}

// Unwrap allows errors.Is(err, ErrDepthExceeded).
func (e *DepthError) Unwrap() error { return ErrDepthExceeded }
