// Package compose converts captured pixel grids into transmit-ready frames:
// gamma decode, linear-light resample to the target geometry, gamma encode.
// The order is fixed; resampling gamma-encoded values darkens edges and
// blends incorrectly.
package compose

import (
	"errors"
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"

	"vdstream/internal/colorspace"
	"vdstream/internal/config"
	"vdstream/internal/grid"
)

// ErrInvalidGeometry means the target width or height is not positive. This
// is a configuration bug, never recovered at runtime.
var ErrInvalidGeometry = errors.New("invalid target geometry")

// roundTripLUT is decode-then-encode for the identity-geometry path, where
// no resampling happens between the two.
var roundTripLUT [256]uint8

func init() {
	for s := 0; s < 256; s++ {
		roundTripLUT[s] = colorspace.Encode(colorspace.Linear(uint8(s)))
	}
}

// Compositor resizes pixel grids to a target geometry with gamma-correct
// resampling. It replaces, does not mutate, its input grid.
type Compositor struct {
	scaler xdraw.Interpolator
}

// New creates a compositor using the configured interpolation kernel.
func New(interp config.Interpolation) *Compositor {
	var scaler xdraw.Interpolator = xdraw.BiLinear
	if interp == config.InterpolationNearest {
		scaler = xdraw.NearestNeighbor
	}
	return &Compositor{scaler: scaler}
}

// Composite produces a gamma-round-tripped frame matching target. The input
// grid is left untouched.
func (c *Compositor) Composite(g *grid.Grid, target grid.Geometry) (*grid.Grid, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidGeometry, target)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	if g.Geometry() == target {
		out, err := grid.New(g.Width, g.Height, g.Channels)
		if err != nil {
			return nil, err
		}
		for i, s := range g.Pix {
			out.Pix[i] = roundTripLUT[s]
		}
		return out, nil
	}

	if g.Channels != 3 {
		return nil, fmt.Errorf("resize supports 3-channel grids, got %d channels", g.Channels)
	}

	// 16-bit linear-light intermediate; 8 bits would posterize shadows
	// after the decode.
	src := image.NewRGBA64(image.Rect(0, 0, g.Width, g.Height))
	for y := 0; y < g.Height; y++ {
		si := y * g.Width * 3
		di := y * src.Stride
		for x := 0; x < g.Width; x++ {
			r := colorspace.Linear16(g.Pix[si])
			gr := colorspace.Linear16(g.Pix[si+1])
			b := colorspace.Linear16(g.Pix[si+2])
			src.Pix[di] = uint8(r >> 8)
			src.Pix[di+1] = uint8(r)
			src.Pix[di+2] = uint8(gr >> 8)
			src.Pix[di+3] = uint8(gr)
			src.Pix[di+4] = uint8(b >> 8)
			src.Pix[di+5] = uint8(b)
			src.Pix[di+6] = 0xff
			src.Pix[di+7] = 0xff
			si += 3
			di += 8
		}
	}

	dst := image.NewRGBA64(image.Rect(0, 0, target.Width, target.Height))
	c.scaler.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	out, err := grid.New(target.Width, target.Height, 3)
	if err != nil {
		return nil, err
	}
	for y := 0; y < target.Height; y++ {
		si := y * dst.Stride
		di := y * target.Width * 3
		for x := 0; x < target.Width; x++ {
			r := uint16(dst.Pix[si])<<8 | uint16(dst.Pix[si+1])
			gr := uint16(dst.Pix[si+2])<<8 | uint16(dst.Pix[si+3])
			b := uint16(dst.Pix[si+4])<<8 | uint16(dst.Pix[si+5])
			out.Pix[di] = colorspace.Encode16(r)
			out.Pix[di+1] = colorspace.Encode16(gr)
			out.Pix[di+2] = colorspace.Encode16(b)
			si += 8
			di += 3
		}
	}
	return out, nil
}
