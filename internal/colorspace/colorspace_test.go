package colorspace

import (
	"math"
	"testing"
)

// TestRoundTrip verifies encode(decode(s)) recovers every sample within the
// quantization tolerance of one unit.
func TestRoundTrip(t *testing.T) {
	for s := 0; s <= 255; s++ {
		got := Encode(Linear(uint8(s)))
		if diff := int(got) - s; diff < -1 || diff > 1 {
			t.Errorf("sample %d round-tripped to %d", s, got)
		}
	}
}

// TestRoundTrip16 covers the 16-bit intermediate used by the resampler.
func TestRoundTrip16(t *testing.T) {
	for s := 0; s <= 255; s++ {
		got := Encode16(Linear16(uint8(s)))
		if diff := int(got) - s; diff < -1 || diff > 1 {
			t.Errorf("sample %d round-tripped to %d via 16-bit path", s, got)
		}
	}
}

func TestLinearMonotonic(t *testing.T) {
	prev := -1.0
	for s := 0; s <= 255; s++ {
		l := Linear(uint8(s))
		if l <= prev {
			t.Fatalf("Linear not strictly increasing at sample %d", s)
		}
		prev = l
	}
}

func TestEncodeMonotonic(t *testing.T) {
	var prev uint8
	for i := 0; i <= 1000; i++ {
		v := Encode(float64(i) / 1000)
		if v < prev {
			t.Fatalf("Encode decreased at linear %f: %d -> %d", float64(i)/1000, prev, v)
		}
		prev = v
	}
}

func TestEncodeClamps(t *testing.T) {
	if got := Encode(-0.5); got != 0 {
		t.Errorf("Encode(-0.5) = %d, want 0", got)
	}
	if got := Encode(1.5); got != 255 {
		t.Errorf("Encode(1.5) = %d, want 255", got)
	}
	if got := Encode(math.NaN()); got != 0 {
		t.Errorf("Encode(NaN) = %d, want 0", got)
	}
}
