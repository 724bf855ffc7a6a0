package capture

import (
	"errors"
	"fmt"

	"vdstream/internal/grid"
)

// ErrCaptureUnavailable means the source buffer was momentarily unreadable
// (missing, locked, or truncated mid-write). Transient: the caller should
// skip the tick and try again.
var ErrCaptureUnavailable = errors.New("capture source unavailable")

// ErrSourceGone means the source display handle is gone for good. Fatal.
var ErrSourceGone = errors.New("capture source gone")

// DecodeError means the raw buffer's format header does not match the
// expected capture encoding.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("capture decode error: %s", e.Reason)
}

// IsDecodeError reports whether err is (or wraps) a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Capturer takes point-in-time snapshots of a virtual display surface.
type Capturer interface {
	// Capture decodes the most recent completed buffer into a pixel grid.
	// It never blocks waiting for the next frame, performs no color or
	// geometry transformation, and retains no reference to the source
	// after returning.
	Capture() (*grid.Grid, error)

	// Name returns a human-readable name for this capture source.
	Name() string

	// Close releases the capture handle.
	Close() error
}
