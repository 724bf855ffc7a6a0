// Package colorspace converts between 8-bit gamma-encoded samples and
// normalized linear-light values. The exponent is a process-wide constant;
// resampling is only colorimetrically correct in linear light, so every
// geometry operation decodes through this package first.
package colorspace

import "math"

// Gamma is the display gamma exponent applied to all channels.
const Gamma = 2.3

var (
	linear16LUT [256]uint16
	encodeLUT   [65536]uint8
)

func init() {
	for s := 0; s < 256; s++ {
		linear16LUT[s] = uint16(math.Round(Linear(uint8(s)) * 65535))
	}
	for v := 0; v < 65536; v++ {
		encodeLUT[v] = Encode(float64(v) / 65535)
	}
}

// Linear decodes a gamma-encoded sample to a linear value in [0, 1].
func Linear(sample uint8) float64 {
	return math.Pow(float64(sample)/255, Gamma)
}

// Encode converts a linear value back to a gamma-encoded 8-bit sample.
// The input is clamped to [0, 1] before quantization so out-of-range
// resampling results cannot wrap.
func Encode(linear float64) uint8 {
	if math.IsNaN(linear) || linear <= 0 {
		return 0
	}
	if linear >= 1 {
		return 255
	}
	return uint8(math.Round(math.Pow(linear, 1/Gamma) * 255))
}

// Linear16 decodes a sample to a 16-bit linear value, the precision carried
// through the resampling path.
func Linear16(sample uint8) uint16 {
	return linear16LUT[sample]
}

// Encode16 converts a 16-bit linear value back to an 8-bit sample.
func Encode16(linear uint16) uint8 {
	return encodeLUT[linear]
}
