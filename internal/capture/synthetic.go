package capture

import (
	"vdstream/internal/grid"
)

// SyntheticCapturer generates frames in memory. It backs tests and demo
// operation without a virtual display server.
type SyntheticCapturer struct {
	width  int
	height int
	render func(frame uint64, g *grid.Grid)
	frame  uint64
	closed bool
}

// NewSolidSource returns a capturer producing a constant solid-color frame.
func NewSolidSource(width, height int, r, g, b uint8) *SyntheticCapturer {
	return &SyntheticCapturer{
		width:  width,
		height: height,
		render: func(_ uint64, out *grid.Grid) {
			for i := 0; i < len(out.Pix); i += 3 {
				out.Pix[i] = r
				out.Pix[i+1] = g
				out.Pix[i+2] = b
			}
		},
	}
}

// NewDemoSource returns a capturer producing a moving diagonal gradient, one
// step per captured frame.
func NewDemoSource(width, height int) *SyntheticCapturer {
	return &SyntheticCapturer{
		width:  width,
		height: height,
		render: func(frame uint64, out *grid.Grid) {
			for y := 0; y < out.Height; y++ {
				for x := 0; x < out.Width; x++ {
					i := (y*out.Width + x) * 3
					out.Pix[i] = uint8((x + int(frame)) * 255 / out.Width)
					out.Pix[i+1] = uint8((y + int(frame)) * 255 / out.Height)
					out.Pix[i+2] = uint8(int(frame) % 256)
				}
			}
		},
	}
}

// Capture renders the next synthetic frame.
func (c *SyntheticCapturer) Capture() (*grid.Grid, error) {
	if c.closed {
		return nil, ErrSourceGone
	}
	out, err := grid.New(c.width, c.height, 3)
	if err != nil {
		return nil, err
	}
	c.render(c.frame, out)
	c.frame++
	return out, nil
}

// Name returns the capture source name.
func (c *SyntheticCapturer) Name() string {
	return "synthetic"
}

// Close marks the source gone; further captures fail fatally.
func (c *SyntheticCapturer) Close() error {
	c.closed = true
	return nil
}
