// Package wire implements the frame message format: a geometry header
// followed by the gamma-encoded pixel payload, one logical message per
// frame.
//
//	[width: u32][height: u32][channel_count: u8][payload: w*h*c bytes]
//
// Integers are big-endian. A new width/height in a later frame tells the
// receiver to resize its render surface before drawing; there is no separate
// resize control message. Ordering comes from the connection, so no sequence
// number is carried.
package wire

import (
	"encoding/binary"
	"fmt"

	"vdstream/internal/grid"
)

// HeaderSize is the fixed frame header length in bytes.
const HeaderSize = 4 + 4 + 1

// maxDimension bounds decoded frame dimensions; anything larger is a
// malformed or hostile message, not a plausible display surface.
const maxDimension = 1 << 14

// Encode serializes a frame into a single wire message.
func Encode(g *grid.Grid) ([]byte, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to encode: %w", err)
	}
	if g.Channels > 255 {
		return nil, fmt.Errorf("channel count %d does not fit the header", g.Channels)
	}
	buf := make([]byte, HeaderSize+len(g.Pix))
	binary.BigEndian.PutUint32(buf[0:], uint32(g.Width))
	binary.BigEndian.PutUint32(buf[4:], uint32(g.Height))
	buf[8] = uint8(g.Channels)
	copy(buf[HeaderSize:], g.Pix)
	return buf, nil
}

// Decode parses a wire message back into a frame. The returned grid owns a
// copy of the payload, so the caller may reuse the message buffer.
func Decode(data []byte) (*grid.Grid, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("message too short: %d bytes", len(data))
	}
	width := binary.BigEndian.Uint32(data[0:])
	height := binary.BigEndian.Uint32(data[4:])
	channels := int(data[8])
	if width == 0 || height == 0 || channels == 0 {
		return nil, fmt.Errorf("invalid frame geometry %dx%dx%d", width, height, channels)
	}
	if width > maxDimension || height > maxDimension {
		return nil, fmt.Errorf("frame geometry %dx%d exceeds limit", width, height)
	}
	want := int(width) * int(height) * channels
	payload := data[HeaderSize:]
	if len(payload) != want {
		return nil, fmt.Errorf("payload length %d does not match %dx%dx%d", len(payload), width, height, channels)
	}
	pix := make([]uint8, want)
	copy(pix, payload)
	return grid.FromPix(int(width), int(height), channels, pix)
}
