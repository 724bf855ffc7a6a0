package grid

import "fmt"

// Geometry is a width/height pair in pixels.
type Geometry struct {
	Width  int
	Height int
}

// Valid reports whether both dimensions are positive.
func (g Geometry) Valid() bool {
	return g.Width > 0 && g.Height > 0
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d", g.Width, g.Height)
}

// Grid is a row-major pixel buffer of 8-bit samples with a fixed channel
// order (RGB for three channels). Each pipeline stage that transforms a Grid
// produces a new one; a Grid handed to another stage is never written again
// by its producer.
type Grid struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8
}

// New allocates a zeroed grid with the given geometry and channel count.
func New(width, height, channels int) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("grid dimensions must be positive, got %dx%d", width, height)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("grid channel count must be positive, got %d", channels)
	}
	return &Grid{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]uint8, width*height*channels),
	}, nil
}

// FromPix wraps an existing pixel buffer, verifying it matches the geometry.
func FromPix(width, height, channels int, pix []uint8) (*Grid, error) {
	g, err := New(width, height, channels)
	if err != nil {
		return nil, err
	}
	if len(pix) != len(g.Pix) {
		return nil, fmt.Errorf("pixel buffer length %d does not match %dx%dx%d", len(pix), width, height, channels)
	}
	g.Pix = pix
	return g, nil
}

// Geometry returns the grid's dimensions.
func (g *Grid) Geometry() Geometry {
	return Geometry{Width: g.Width, Height: g.Height}
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	pix := make([]uint8, len(g.Pix))
	copy(pix, g.Pix)
	return &Grid{Width: g.Width, Height: g.Height, Channels: g.Channels, Pix: pix}
}

// Validate checks the buffer-length invariant.
func (g *Grid) Validate() error {
	if g.Width <= 0 || g.Height <= 0 || g.Channels <= 0 {
		return fmt.Errorf("invalid grid dimensions %dx%dx%d", g.Width, g.Height, g.Channels)
	}
	if want := g.Width * g.Height * g.Channels; len(g.Pix) != want {
		return fmt.Errorf("grid buffer length %d, want %d", len(g.Pix), want)
	}
	return nil
}
