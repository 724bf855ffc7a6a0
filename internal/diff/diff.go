// Package diff decides whether a composited frame differs enough from the
// last transmitted one to be worth sending.
package diff

import (
	"time"

	"vdstream/internal/grid"
)

// Policy holds the send decision parameters. The zero threshold sends on any
// change; MaxStaleness bounds how long an unchanged viewer can go without a
// refresh, so liveness never depends on content drift.
type Policy struct {
	Threshold    float64
	MaxStaleness time.Duration
}

// ShouldSend reports whether candidate should be transmitted given the last
// sent frame and the time since the last send. A nil previous frame (first
// frame of a session, or after a reconnect reset) always sends. The policy
// is stateless; the caller owns the frame-state update after a successful
// send.
func (p Policy) ShouldSend(candidate, previous *grid.Grid, sinceLastSend time.Duration) bool {
	if previous == nil {
		return true
	}
	if p.MaxStaleness > 0 && sinceLastSend >= p.MaxStaleness {
		return true
	}
	if candidate.Width != previous.Width ||
		candidate.Height != previous.Height ||
		candidate.Channels != previous.Channels {
		// Geometry changed; the receiver needs the new surface size.
		return true
	}
	return meanAbsDiff(candidate.Pix, previous.Pix) > p.Threshold
}

// meanAbsDiff is the mean absolute per-sample difference, in sample units.
func meanAbsDiff(a, b []uint8) float64 {
	if len(a) == 0 {
		return 0
	}
	var sum uint64
	for i := range a {
		d := int(a[i]) - int(b[i])
		if d < 0 {
			d = -d
		}
		sum += uint64(d)
	}
	return float64(sum) / float64(len(a))
}
