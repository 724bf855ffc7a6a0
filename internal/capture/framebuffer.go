package capture

import (
	"fmt"
	"os"

	"vdstream/internal/grid"
	"vdstream/internal/logger"
)

// FramebufferCapturer snapshots an Xvfb framebuffer file (the XWD dump the
// server keeps current under -fbdir). Each Capture is one whole-file read,
// so it always observes the most recent completed buffer and never waits
// for the next frame.
type FramebufferCapturer struct {
	path string
	seen bool
}

// NewFramebufferCapturer creates a capturer for the framebuffer at path.
func NewFramebufferCapturer(path string) *FramebufferCapturer {
	return &FramebufferCapturer{path: path}
}

// Capture reads and decodes the current framebuffer contents.
func (c *FramebufferCapturer) Capture() (*grid.Grid, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) && c.seen {
			// The buffer existed and vanished: the display server is gone.
			return nil, fmt.Errorf("%w: %s removed", ErrSourceGone, c.path)
		}
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	g, err := DecodeXWD(data)
	if err != nil {
		return nil, err
	}
	if !c.seen {
		logger.WithComponent("capture").Info().
			Str("path", c.path).
			Str("geometry", g.Geometry().String()).
			Msg("Framebuffer attached")
		c.seen = true
	}
	return g, nil
}

// Name returns the capture source name.
func (c *FramebufferCapturer) Name() string {
	return "xvfb-framebuffer"
}

// Close releases the capture handle. The file is opened per snapshot, so
// there is nothing to release beyond forgetting the path.
func (c *FramebufferCapturer) Close() error {
	return nil
}
