// Package stats accumulates min/avg/max over a sample window and logs a
// summary line once per window, so steady-state pipelines report timing
// without per-tick log spam.
package stats

import (
	"time"

	"github.com/rs/zerolog"
)

// DefaultWindow is the number of samples per logged summary.
const DefaultWindow = 1000

// Stats accumulates samples and periodically logs a summary.
type Stats struct {
	name   string
	log    *zerolog.Logger
	window int

	min, max, sum float64
	num           int
}

// New creates a Stats series. A non-positive window selects DefaultWindow.
func New(name string, log *zerolog.Logger, window int) *Stats {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Stats{name: name, log: log, window: window}
}

// Sample records one observation.
func (s *Stats) Sample(v float64) {
	if s.num == 0 || v < s.min {
		s.min = v
	}
	if s.num == 0 || v > s.max {
		s.max = v
	}
	s.sum += v
	s.num++
	if s.num >= s.window {
		s.log.Info().
			Str("series", s.name).
			Float64("min", s.min).
			Float64("avg", s.sum/float64(s.num)).
			Float64("max", s.max).
			Int("num", s.num).
			Msg("Stats window")
		s.min, s.max, s.sum, s.num = 0, 0, 0, 0
	}
}

// IntervalProfiler measures durations between Start and Stop, in seconds.
type IntervalProfiler struct {
	stats *Stats
	t0    time.Time
}

// NewIntervalProfiler creates a profiler logging under name.
func NewIntervalProfiler(name string, log *zerolog.Logger, window int) *IntervalProfiler {
	return &IntervalProfiler{stats: New(name+" time", log, window)}
}

// Start marks the beginning of an interval.
func (p *IntervalProfiler) Start() {
	p.t0 = time.Now()
}

// Stop samples the elapsed interval. Unpaired Stops are ignored.
func (p *IntervalProfiler) Stop() {
	if p.t0.IsZero() {
		return
	}
	p.stats.Sample(time.Since(p.t0).Seconds())
	p.t0 = time.Time{}
}

// PeriodProfiler measures spacing between consecutive Marks, in seconds.
type PeriodProfiler struct {
	stats *Stats
	then  time.Time
}

// NewPeriodProfiler creates a profiler logging under name.
func NewPeriodProfiler(name string, log *zerolog.Logger, window int) *PeriodProfiler {
	return &PeriodProfiler{stats: New(name+" period", log, window)}
}

// Mark records the boundary between two periods. The first Mark only arms
// the profiler.
func (p *PeriodProfiler) Mark() {
	now := time.Now()
	if !p.then.IsZero() {
		p.stats.Sample(now.Sub(p.then).Seconds())
	}
	p.then = now
}
