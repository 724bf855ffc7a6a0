package capture

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"vdstream/internal/grid"
)

// XWD file constants. Xvfb's -fbdir exposes the framebuffer as an XWD
// version 7 dump in ZPixmap format.
const (
	xwdFileVersion    = 7
	xwdFormatZPixmap  = 2
	xwdFixedHeaderLen = 100 // 25 big-endian 32-bit words
	xwdColorEntryLen  = 12
)

type xwdHeader struct {
	HeaderSize   uint32
	FileVersion  uint32
	PixmapFormat uint32
	PixmapDepth  uint32
	PixmapWidth  uint32
	PixmapHeight uint32
	ByteOrder    uint32
	BitsPerPixel uint32
	BytesPerLine uint32
	RedMask      uint32
	GreenMask    uint32
	BlueMask     uint32
	NColors      uint32
}

func parseXWDHeader(data []byte) (*xwdHeader, error) {
	if len(data) < xwdFixedHeaderLen {
		return nil, fmt.Errorf("%w: short header (%d bytes)", ErrCaptureUnavailable, len(data))
	}
	word := func(i int) uint32 {
		return binary.BigEndian.Uint32(data[i*4:])
	}
	h := &xwdHeader{
		HeaderSize:   word(0),
		FileVersion:  word(1),
		PixmapFormat: word(2),
		PixmapDepth:  word(3),
		PixmapWidth:  word(4),
		PixmapHeight: word(5),
		ByteOrder:    word(7),
		BitsPerPixel: word(11),
		BytesPerLine: word(12),
		RedMask:      word(14),
		GreenMask:    word(15),
		BlueMask:     word(16),
		NColors:      word(19),
	}

	if h.FileVersion != xwdFileVersion {
		return nil, &DecodeError{Reason: fmt.Sprintf("unsupported XWD version %d", h.FileVersion)}
	}
	if h.PixmapFormat != xwdFormatZPixmap {
		return nil, &DecodeError{Reason: fmt.Sprintf("pixmap format %d is not ZPixmap", h.PixmapFormat)}
	}
	if h.BitsPerPixel != 24 && h.BitsPerPixel != 32 {
		return nil, &DecodeError{Reason: fmt.Sprintf("unsupported bits per pixel %d", h.BitsPerPixel)}
	}
	if h.HeaderSize < xwdFixedHeaderLen {
		return nil, &DecodeError{Reason: fmt.Sprintf("header size %d too small", h.HeaderSize)}
	}
	if h.PixmapWidth == 0 || h.PixmapHeight == 0 {
		return nil, &DecodeError{Reason: "zero pixmap dimensions"}
	}
	return h, nil
}

// channelShift derives the right-shift for an 8-bit channel mask. Masks
// narrower or wider than 8 bits are not produced by a 24/32-bit Xvfb screen.
func channelShift(mask uint32) (int, error) {
	if mask == 0 {
		return 0, &DecodeError{Reason: "zero channel mask"}
	}
	shift := bits.TrailingZeros32(mask)
	if mask>>shift != 0xff {
		return 0, &DecodeError{Reason: fmt.Sprintf("unsupported channel mask %#x", mask)}
	}
	return shift, nil
}

// DecodeXWD decodes an XWD framebuffer dump into an RGB pixel grid. A
// malformed header yields a DecodeError; pixel data shorter than the header
// promises yields ErrCaptureUnavailable, since a snapshot read can race the
// server's own write.
func DecodeXWD(data []byte) (*grid.Grid, error) {
	h, err := parseXWDHeader(data)
	if err != nil {
		return nil, err
	}

	rShift, err := channelShift(h.RedMask)
	if err != nil {
		return nil, err
	}
	gShift, err := channelShift(h.GreenMask)
	if err != nil {
		return nil, err
	}
	bShift, err := channelShift(h.BlueMask)
	if err != nil {
		return nil, err
	}

	pixelStart := int(h.HeaderSize) + int(h.NColors)*xwdColorEntryLen
	bytesPerPixel := int(h.BitsPerPixel) / 8
	stride := int(h.BytesPerLine)
	if stride < int(h.PixmapWidth)*bytesPerPixel {
		return nil, &DecodeError{Reason: fmt.Sprintf("bytes per line %d below row width", stride)}
	}
	need := pixelStart + stride*int(h.PixmapHeight)
	if len(data) < need {
		return nil, fmt.Errorf("%w: pixel data truncated (%d of %d bytes)", ErrCaptureUnavailable, len(data), need)
	}

	out, err := grid.New(int(h.PixmapWidth), int(h.PixmapHeight), 3)
	if err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}

	msbFirst := h.ByteOrder != 0
	for y := 0; y < out.Height; y++ {
		row := data[pixelStart+y*stride:]
		for x := 0; x < out.Width; x++ {
			var v uint32
			p := row[x*bytesPerPixel:]
			switch bytesPerPixel {
			case 4:
				if msbFirst {
					v = binary.BigEndian.Uint32(p)
				} else {
					v = binary.LittleEndian.Uint32(p)
				}
			case 3:
				if msbFirst {
					v = uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2])
				} else {
					v = uint32(p[2])<<16 | uint32(p[1])<<8 | uint32(p[0])
				}
			}
			i := (y*out.Width + x) * 3
			out.Pix[i] = uint8(v >> rShift)
			out.Pix[i+1] = uint8(v >> gShift)
			out.Pix[i+2] = uint8(v >> bShift)
		}
	}
	return out, nil
}
