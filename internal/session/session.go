// Package session runs the streaming pipeline for one capture-source-to-
// viewer relationship: capture, composite, diff-decide, send, on a fixed
// cadence, with reconnection and failure classification. Capture failures,
// network failures, and viewer-geometry changes are independent and
// interleaved, so the loop is an explicit state machine rather than one
// linear procedure.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"vdstream/internal/capture"
	"vdstream/internal/compose"
	"vdstream/internal/diff"
	"vdstream/internal/grid"
	"vdstream/internal/logger"
	"vdstream/internal/stats"
	"vdstream/internal/transport"
)

// State is the session lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateReconnecting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// TerminatedError is the terminal, user-visible outcome after recovery
// budgets are exhausted. It carries the terminal cause so an operator can
// tell a dead source from an unreachable network.
type TerminatedError struct {
	Cause error
}

func (e *TerminatedError) Error() string {
	return fmt.Sprintf("session terminated: %v", e.Cause)
}

func (e *TerminatedError) Unwrap() error {
	return e.Cause
}

// Clock abstracts time so tests drive the loop with simulated ticks.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// GeometrySource supplies the remote viewer's current geometry. It is read
// fresh before every composite; the value is never cached beyond one frame.
type GeometrySource interface {
	Target() grid.Geometry
}

// StaticGeometry is a GeometrySource whose value can be swapped at runtime
// (viewer resize) without a session state transition.
type StaticGeometry struct {
	v atomic.Value
}

// NewStaticGeometry creates a source with an initial geometry.
func NewStaticGeometry(g grid.Geometry) *StaticGeometry {
	s := &StaticGeometry{}
	s.v.Store(g)
	return s
}

// Target returns the current geometry.
func (s *StaticGeometry) Target() grid.Geometry {
	return s.v.Load().(grid.Geometry)
}

// Set replaces the geometry.
func (s *StaticGeometry) Set(g grid.Geometry) {
	s.v.Store(g)
}

// Config holds the session's runtime parameters.
type Config struct {
	Endpoint             string
	SamplingPeriod       time.Duration
	DiffThreshold        float64
	MaxStaleness         time.Duration
	ReconnectBackoff     time.Duration
	MaxReconnectAttempts int
	// DecodeErrorLimit is the number of consecutive decode failures
	// tolerated before the session treats the source as fatally broken.
	DecodeErrorLimit int
}

// DefaultDecodeErrorLimit applies when Config.DecodeErrorLimit is zero.
const DefaultDecodeErrorLimit = 5

// Deps are the session's collaborators. Clock may be nil for system time.
type Deps struct {
	Capturer   capture.Capturer
	Compositor *compose.Compositor
	Dialer     transport.Dialer
	Geometry   GeometrySource
	Clock      Clock
}

// Session is one streaming pipeline. Create with New, drive with Run.
type Session struct {
	cfg        Config
	capturer   capture.Capturer
	compositor *compose.Compositor
	policy     diff.Policy
	dialer     transport.Dialer
	geometry   GeometrySource
	clock      Clock
	log        *zerolog.Logger

	state atomic.Int32

	// Frame state: the last transmitted frame, the comparison baseline
	// for the differ. Updated only after a successful send; reset to nil
	// on reconnect so the viewer never keeps a stale frame.
	lastSent   *grid.Grid
	lastSendAt time.Time

	decodeFailures int

	captureProf   *stats.IntervalProfiler
	compositeProf *stats.IntervalProfiler
	sendProf      *stats.IntervalProfiler
	tickProf      *stats.PeriodProfiler
}

// New creates a session. It does not connect; Run does.
func New(cfg Config, deps Deps) *Session {
	if cfg.DecodeErrorLimit <= 0 {
		cfg.DecodeErrorLimit = DefaultDecodeErrorLimit
	}
	clock := deps.Clock
	if clock == nil {
		clock = systemClock{}
	}
	log := logger.WithComponent("session")
	return &Session{
		cfg:        cfg,
		capturer:   deps.Capturer,
		compositor: deps.Compositor,
		policy:     diff.Policy{Threshold: cfg.DiffThreshold, MaxStaleness: cfg.MaxStaleness},
		dialer:     deps.Dialer,
		geometry:   deps.Geometry,
		clock:      clock,
		log:        log,

		captureProf:   stats.NewIntervalProfiler("capture", log, stats.DefaultWindow),
		compositeProf: stats.NewIntervalProfiler("composite", log, stats.DefaultWindow),
		sendProf:      stats.NewIntervalProfiler("send", log, stats.DefaultWindow),
		tickProf:      stats.NewPeriodProfiler("tick", log, stats.DefaultWindow),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old != st {
		s.log.Info().
			Stringer("from", old).
			Stringer("to", st).
			Msg("Session state change")
	}
}

// Run drives the session until the context is cancelled, the source dies,
// or the reconnect budget is exhausted. The capture handle and any open
// connection are released on every exit path. The returned error is ctx's
// error on a normal stop, or a *TerminatedError naming the terminal cause.
func (s *Session) Run(ctx context.Context) error {
	defer s.capturer.Close()

	s.setState(StateConnecting)
	conn, err := s.connect(ctx)
	if err != nil {
		return s.fail(ctx, err)
	}
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()
	s.setState(StateStreaming)

	for {
		select {
		case <-ctx.Done():
			s.setState(StateTerminated)
			return ctx.Err()
		case <-s.clock.After(s.cfg.SamplingPeriod):
		}
		s.tickProf.Mark()

		s.captureProf.Start()
		g, err := s.capturer.Capture()
		s.captureProf.Stop()
		if err != nil {
			switch {
			case errors.Is(err, capture.ErrCaptureUnavailable):
				s.log.Debug().Err(err).Msg("Capture unavailable, skipping tick")
				continue
			case capture.IsDecodeError(err):
				s.decodeFailures++
				if s.decodeFailures >= s.cfg.DecodeErrorLimit {
					return s.fail(ctx, fmt.Errorf("%d consecutive decode failures: %w", s.decodeFailures, err))
				}
				s.log.Warn().Err(err).Int("consecutive", s.decodeFailures).Msg("Capture decode failed, skipping tick")
				continue
			default:
				return s.fail(ctx, err)
			}
		}
		s.decodeFailures = 0

		target := s.geometry.Target()
		s.compositeProf.Start()
		frame, err := s.compositor.Composite(g, target)
		s.compositeProf.Stop()
		if err != nil {
			// InvalidGeometry and friends are configuration bugs, not
			// runtime conditions; surface immediately.
			return s.fail(ctx, err)
		}

		now := s.clock.Now()
		if !s.policy.ShouldSend(frame, s.lastSent, now.Sub(s.lastSendAt)) {
			continue
		}

		s.sendProf.Start()
		err = conn.Send(frame)
		s.sendProf.Stop()
		if err != nil {
			s.log.Warn().Err(err).Msg("Send failed, reconnecting")
			conn.Close()
			conn = nil
			s.setState(StateReconnecting)
			conn, err = s.connect(ctx)
			if err != nil {
				return s.fail(ctx, err)
			}
			// Reset the baseline so the next frame goes out whole even
			// if content-identical to the last one before the drop.
			s.lastSent = nil
			s.setState(StateStreaming)
			continue
		}
		s.lastSent = frame
		s.lastSendAt = now
	}
}

// connect dials until it succeeds or the attempt budget is spent. Each
// failure is followed by the configured backoff delay.
func (s *Session) connect(ctx context.Context) (transport.Conn, error) {
	failures := 0
	for {
		conn, err := s.dialer.Dial(ctx, s.cfg.Endpoint)
		if err == nil {
			s.log.Info().Str("endpoint", s.cfg.Endpoint).Msg("Connected")
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		failures++
		s.log.Warn().
			Err(err).
			Int("failures", failures).
			Int("budget", s.cfg.MaxReconnectAttempts).
			Msg("Connect failed")
		if failures > s.cfg.MaxReconnectAttempts {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.clock.After(s.cfg.ReconnectBackoff):
		}
	}
}

// fail moves to Terminated and reports the terminal cause exactly once.
func (s *Session) fail(ctx context.Context, cause error) error {
	s.setState(StateTerminated)
	if ctx.Err() != nil {
		s.log.Info().Msg("Session stopped")
		return ctx.Err()
	}
	s.log.Error().Err(cause).Msg("Session terminated")
	return &TerminatedError{Cause: cause}
}
