package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"vdstream/internal/capture"
	"vdstream/internal/compose"
	"vdstream/internal/config"
	"vdstream/internal/grid"
	"vdstream/internal/transport"
)

// fakeClock advances simulated time by the waited duration and fires
// immediately, so the loop runs full speed through deterministic ticks.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// scriptCapturer returns scripted results in order; when the script runs
// out it keeps repeating the final entry.
type scriptCapturer struct {
	results []captureResult
	i       int
	closed  bool
}

type captureResult struct {
	grid *grid.Grid
	err  error
}

func (c *scriptCapturer) Capture() (*grid.Grid, error) {
	r := c.results[c.i]
	if c.i < len(c.results)-1 {
		c.i++
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.grid.Clone(), nil
}

func (c *scriptCapturer) Name() string { return "script" }
func (c *scriptCapturer) Close() error { c.closed = true; return nil }

type fakeConn struct {
	frames   []*grid.Grid
	failFrom int // fail Sends once this many have succeeded; -1 never
	closed   bool
}

func (c *fakeConn) Send(frame *grid.Grid) error {
	if c.failFrom >= 0 && len(c.frames) >= c.failFrom {
		return &transport.Error{Op: "send", Err: fmt.Errorf("peer reset")}
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Close() error { c.closed = true; return nil }

type scriptDialer struct {
	// Each entry is either a connection or nil for a dial failure.
	conns []*fakeConn
	dials int
}

func (d *scriptDialer) Dial(ctx context.Context, endpoint string) (transport.Conn, error) {
	i := d.dials
	d.dials++
	if i >= len(d.conns) || d.conns[i] == nil {
		return nil, &transport.Error{Op: "connect", Err: fmt.Errorf("connection refused")}
	}
	return d.conns[i], nil
}

type scriptGeometry struct {
	targets []grid.Geometry
	i       int
}

func (g *scriptGeometry) Target() grid.Geometry {
	t := g.targets[g.i]
	if g.i < len(g.targets)-1 {
		g.i++
	}
	return t
}

func solidFrame(t *testing.T, w, h int, v uint8) *grid.Grid {
	t.Helper()
	g, err := grid.New(w, h, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i := range g.Pix {
		g.Pix[i] = v
	}
	return g
}

func baseConfig() Config {
	return Config{
		Endpoint:             "ws://viewer/session",
		SamplingPeriod:       time.Second,
		DiffThreshold:        2.0,
		MaxStaleness:         time.Hour,
		ReconnectBackoff:     100 * time.Millisecond,
		MaxReconnectAttempts: 3,
	}
}

func newTestSession(cfg Config, src capture.Capturer, dialer transport.Dialer, geo GeometrySource) *Session {
	return New(cfg, Deps{
		Capturer:   src,
		Compositor: compose.New(config.InterpolationBilinear),
		Dialer:     dialer,
		Geometry:   geo,
		Clock:      &fakeClock{now: time.Unix(0, 0)},
	})
}

func TestStreamUntilSourceGone(t *testing.T) {
	src := &scriptCapturer{results: []captureResult{
		{grid: solidFrame(t, 10, 10, 100)},
		{err: capture.ErrSourceGone},
	}}
	conn := &fakeConn{failFrom: -1}
	dialer := &scriptDialer{conns: []*fakeConn{conn}}
	s := newTestSession(baseConfig(), src, dialer, NewStaticGeometry(grid.Geometry{Width: 10, Height: 10}))

	err := s.Run(context.Background())
	var te *TerminatedError
	if !errors.As(err, &te) {
		t.Fatalf("got %v, want *TerminatedError", err)
	}
	if !errors.Is(err, capture.ErrSourceGone) {
		t.Fatalf("terminal cause %v, want ErrSourceGone", err)
	}
	if s.State() != StateTerminated {
		t.Fatalf("state %s, want terminated", s.State())
	}
	if len(conn.frames) != 1 {
		t.Fatalf("sent %d frames, want 1", len(conn.frames))
	}
	if !src.closed {
		t.Fatal("capture handle not released")
	}
	if !conn.closed {
		t.Fatal("connection not released")
	}
}

func TestConnectRetriesWithinBudget(t *testing.T) {
	src := &scriptCapturer{results: []captureResult{
		{grid: solidFrame(t, 10, 10, 100)},
		{err: capture.ErrSourceGone},
	}}
	conn := &fakeConn{failFrom: -1}
	// Three refusals, then success: still within MaxReconnectAttempts=3.
	dialer := &scriptDialer{conns: []*fakeConn{nil, nil, nil, conn}}
	s := newTestSession(baseConfig(), src, dialer, NewStaticGeometry(grid.Geometry{Width: 10, Height: 10}))

	s.Run(context.Background())
	if len(conn.frames) != 1 {
		t.Fatalf("sent %d frames, want 1 (streaming never resumed?)", len(conn.frames))
	}
	if dialer.dials != 4 {
		t.Fatalf("dialed %d times, want 4", dialer.dials)
	}
}

func TestConnectBudgetExhausted(t *testing.T) {
	src := &scriptCapturer{results: []captureResult{{grid: solidFrame(t, 10, 10, 100)}}}
	dialer := &scriptDialer{} // refuses every dial
	cfg := baseConfig()
	cfg.MaxReconnectAttempts = 3
	s := newTestSession(cfg, src, dialer, NewStaticGeometry(grid.Geometry{Width: 10, Height: 10}))

	err := s.Run(context.Background())
	var te *TerminatedError
	if !errors.As(err, &te) {
		t.Fatalf("got %v, want *TerminatedError", err)
	}
	var tre *transport.Error
	if !errors.As(err, &tre) {
		t.Fatalf("terminal cause %v, want transport error", err)
	}
	// Budget allows max failures; the attempt after that terminates.
	if dialer.dials != 4 {
		t.Fatalf("dialed %d times, want 4", dialer.dials)
	}
	if s.State() != StateTerminated {
		t.Fatalf("state %s, want terminated", s.State())
	}
}

// TestReconnectResetsFrameState: after Reconnecting -> Streaming, the next
// frame is sent unconditionally even if content-identical to the last frame
// transmitted before the disconnect.
func TestReconnectResetsFrameState(t *testing.T) {
	gray := solidFrame(t, 10, 10, 128)
	white := solidFrame(t, 10, 10, 255)
	src := &scriptCapturer{results: []captureResult{
		{grid: gray},
		{grid: white}, // change forces a send attempt, which fails
		{grid: gray},
		{grid: gray},
		{err: capture.ErrSourceGone},
	}}
	conn1 := &fakeConn{failFrom: 1} // first Send succeeds, second fails
	conn2 := &fakeConn{failFrom: -1}
	dialer := &scriptDialer{conns: []*fakeConn{conn1, conn2}}
	s := newTestSession(baseConfig(), src, dialer, NewStaticGeometry(grid.Geometry{Width: 10, Height: 10}))

	s.Run(context.Background())
	if len(conn1.frames) != 1 {
		t.Fatalf("conn1 got %d frames, want 1", len(conn1.frames))
	}
	// conn2's frame is identical in content to conn1's; only the frame
	// state reset explains it being sent.
	if len(conn2.frames) != 1 {
		t.Fatalf("conn2 got %d frames, want 1", len(conn2.frames))
	}
	if d := int(conn2.frames[0].Pix[0]) - 128; d < -1 || d > 1 {
		t.Fatalf("conn2 frame sample %d, want ~128", conn2.frames[0].Pix[0])
	}
	if !conn1.closed {
		t.Fatal("failed connection not closed")
	}
}

func TestGeometryReadFreshEveryTick(t *testing.T) {
	src := &scriptCapturer{results: []captureResult{
		{grid: solidFrame(t, 100, 100, 60)},
		{grid: solidFrame(t, 100, 100, 60)},
		{grid: solidFrame(t, 100, 100, 60)},
		{err: capture.ErrSourceGone},
	}}
	conn := &fakeConn{failFrom: -1}
	dialer := &scriptDialer{conns: []*fakeConn{conn}}
	geo := &scriptGeometry{targets: []grid.Geometry{
		{Width: 100, Height: 100},
		{Width: 50, Height: 200},
		{Width: 100, Height: 100},
	}}
	s := newTestSession(baseConfig(), src, dialer, geo)

	s.Run(context.Background())
	if len(conn.frames) != 3 {
		t.Fatalf("sent %d frames, want 3 (geometry changes must always send)", len(conn.frames))
	}
	for i, want := range geo.targets {
		if got := conn.frames[i].Geometry(); got != want {
			t.Errorf("tick %d geometry %s, want %s", i, got, want)
		}
	}
}

func TestCaptureUnavailableSkipsTick(t *testing.T) {
	src := &scriptCapturer{results: []captureResult{
		{err: capture.ErrCaptureUnavailable},
		{err: capture.ErrCaptureUnavailable},
		{grid: solidFrame(t, 10, 10, 30)},
		{err: capture.ErrSourceGone},
	}}
	conn := &fakeConn{failFrom: -1}
	dialer := &scriptDialer{conns: []*fakeConn{conn}}
	s := newTestSession(baseConfig(), src, dialer, NewStaticGeometry(grid.Geometry{Width: 10, Height: 10}))

	s.Run(context.Background())
	if len(conn.frames) != 1 {
		t.Fatalf("sent %d frames, want 1", len(conn.frames))
	}
}

func TestDecodeErrorEscalates(t *testing.T) {
	bad := captureResult{err: &capture.DecodeError{Reason: "garbage header"}}
	src := &scriptCapturer{results: []captureResult{bad, bad, bad, bad}}
	conn := &fakeConn{failFrom: -1}
	dialer := &scriptDialer{conns: []*fakeConn{conn}}
	cfg := baseConfig()
	cfg.DecodeErrorLimit = 3
	s := newTestSession(cfg, src, dialer, NewStaticGeometry(grid.Geometry{Width: 10, Height: 10}))

	err := s.Run(context.Background())
	if !capture.IsDecodeError(err) {
		t.Fatalf("terminal cause %v, want decode error", err)
	}
	if len(conn.frames) != 0 {
		t.Fatalf("sent %d frames, want 0", len(conn.frames))
	}
}

func TestDecodeErrorCounterResets(t *testing.T) {
	bad := captureResult{err: &capture.DecodeError{Reason: "torn buffer"}}
	src := &scriptCapturer{results: []captureResult{
		bad, bad,
		{grid: solidFrame(t, 10, 10, 77)}, // resets the consecutive count
		bad, bad,
		{err: capture.ErrSourceGone},
	}}
	conn := &fakeConn{failFrom: -1}
	dialer := &scriptDialer{conns: []*fakeConn{conn}}
	cfg := baseConfig()
	cfg.DecodeErrorLimit = 3
	s := newTestSession(cfg, src, dialer, NewStaticGeometry(grid.Geometry{Width: 10, Height: 10}))

	err := s.Run(context.Background())
	if !errors.Is(err, capture.ErrSourceGone) {
		t.Fatalf("terminal cause %v, want ErrSourceGone (decode errors were non-consecutive)", err)
	}
}

func TestInvalidGeometryIsFatal(t *testing.T) {
	src := &scriptCapturer{results: []captureResult{{grid: solidFrame(t, 10, 10, 1)}}}
	conn := &fakeConn{failFrom: -1}
	dialer := &scriptDialer{conns: []*fakeConn{conn}}
	s := newTestSession(baseConfig(), src, dialer, NewStaticGeometry(grid.Geometry{Width: 0, Height: 10}))

	err := s.Run(context.Background())
	if !errors.Is(err, compose.ErrInvalidGeometry) {
		t.Fatalf("terminal cause %v, want ErrInvalidGeometry", err)
	}
}

// TestEndToEndScenario: solid 100x100 gray source, 50x50 target. One frame
// goes out immediately; unchanged input sends nothing for ten ticks until
// max staleness forces a resend.
func TestEndToEndScenario(t *testing.T) {
	gray := solidFrame(t, 100, 100, 128)
	results := make([]captureResult, 0, 13)
	for i := 0; i < 12; i++ {
		results = append(results, captureResult{grid: gray})
	}
	results = append(results, captureResult{err: capture.ErrSourceGone})
	src := &scriptCapturer{results: results}
	conn := &fakeConn{failFrom: -1}
	dialer := &scriptDialer{conns: []*fakeConn{conn}}

	cfg := baseConfig()
	cfg.SamplingPeriod = time.Second
	cfg.MaxStaleness = 10 * time.Second
	s := newTestSession(cfg, src, dialer, NewStaticGeometry(grid.Geometry{Width: 50, Height: 50}))

	s.Run(context.Background())
	if len(conn.frames) != 2 {
		t.Fatalf("sent %d frames, want 2 (first frame + staleness resend)", len(conn.frames))
	}
	first := conn.frames[0]
	if first.Geometry() != (grid.Geometry{Width: 50, Height: 50}) || first.Channels != 3 {
		t.Fatalf("first frame is %s/%d channels, want 50x50/3", first.Geometry(), first.Channels)
	}
	if len(first.Pix) != 7500 {
		t.Fatalf("first frame payload %d bytes, want 7500", len(first.Pix))
	}
	for i, v := range first.Pix {
		if d := int(v) - 128; d < -1 || d > 1 {
			t.Fatalf("payload[%d] = %d, want gamma-round-tripped ~128", i, v)
		}
	}
}

func TestCancelledContextStops(t *testing.T) {
	src := &scriptCapturer{results: []captureResult{{grid: solidFrame(t, 10, 10, 1)}}}
	conn := &fakeConn{failFrom: -1}
	dialer := &scriptDialer{conns: []*fakeConn{conn}}
	s := newTestSession(baseConfig(), src, dialer, NewStaticGeometry(grid.Geometry{Width: 10, Height: 10}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if s.State() != StateTerminated {
		t.Fatalf("state %s, want terminated", s.State())
	}
	if !src.closed {
		t.Fatal("capture handle not released on cancel")
	}
}
