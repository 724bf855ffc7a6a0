package diff

import (
	"testing"
	"time"

	"vdstream/internal/grid"
)

func mustGrid(t *testing.T, w, h int, fill uint8) *grid.Grid {
	t.Helper()
	g, err := grid.New(w, h, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i := range g.Pix {
		g.Pix[i] = fill
	}
	return g
}

func TestFirstFrameAlwaysSends(t *testing.T) {
	p := Policy{Threshold: 1000, MaxStaleness: time.Hour}
	if !p.ShouldSend(mustGrid(t, 4, 4, 0), nil, 0) {
		t.Fatal("nil previous must always send")
	}
}

func TestIdenticalFrameSkipped(t *testing.T) {
	p := Policy{Threshold: 2, MaxStaleness: time.Minute}
	a := mustGrid(t, 8, 8, 128)
	b := mustGrid(t, 8, 8, 128)
	if p.ShouldSend(a, b, time.Second) {
		t.Fatal("identical frame below staleness must be skipped")
	}
}

func TestStalenessForcesSend(t *testing.T) {
	p := Policy{Threshold: 2, MaxStaleness: time.Minute}
	a := mustGrid(t, 8, 8, 128)
	b := mustGrid(t, 8, 8, 128)
	if !p.ShouldSend(a, b, time.Minute) {
		t.Fatal("elapsed staleness must force a send")
	}
}

func TestThreshold(t *testing.T) {
	p := Policy{Threshold: 5, MaxStaleness: time.Hour}
	prev := mustGrid(t, 8, 8, 100)

	small := mustGrid(t, 8, 8, 103) // mean diff 3, below threshold
	if p.ShouldSend(small, prev, 0) {
		t.Fatal("sub-threshold change must be skipped")
	}

	big := mustGrid(t, 8, 8, 120) // mean diff 20
	if !p.ShouldSend(big, prev, 0) {
		t.Fatal("above-threshold change must send")
	}
}

func TestGeometryChangeSends(t *testing.T) {
	p := Policy{Threshold: 1000, MaxStaleness: time.Hour}
	if !p.ShouldSend(mustGrid(t, 4, 8, 0), mustGrid(t, 8, 4, 0), 0) {
		t.Fatal("geometry change must send")
	}
}
