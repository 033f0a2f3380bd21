// Package clock abstracts the cycle and nanosecond counters read by the hot
// path. Business logic only sees the Clock interface; platform readers are
// selected at build time.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock is the single timing capability used by actors, the bus, the
// routing engine and the supervision tree.
type Clock interface {
	// NowCycles returns a monotonic cycle-like counter. Only differences
	// between two readings are meaningful.
	NowCycles() uint64
	// NowNanos returns monotonic nanoseconds.
	NowNanos() int64
}

// Monotonic reads the platform monotonic clock. On linux it uses
// CLOCK_MONOTONIC_RAW and reports one cycle per CyclesPerNano nanoseconds.
type Monotonic struct {
	// CyclesPerNano scales nanoseconds to budget cycles. Zero means 1.
	CyclesPerNano uint64
}

// NewMonotonic returns the default platform clock.
func NewMonotonic() *Monotonic { return &Monotonic{CyclesPerNano: 1} }

// NowCycles implements Clock.
func (m *Monotonic) NowCycles() uint64 {
	n := uint64(m.NowNanos())
	if m.CyclesPerNano > 1 {
		return n * m.CyclesPerNano
	}
	return n
}

// NowNanos implements Clock.
func (m *Monotonic) NowNanos() int64 { return monotonicNanos() }

var processStart = time.Now()

// portableNanos is the fallback reader; time.Since uses the runtime's
// monotonic reading.
func portableNanos() int64 { return int64(time.Since(processStart)) }

// Manual is a deterministic clock for tests and simulation. Every reading of
// NowCycles advances the counter by Step, which lets tests model the cost of
// an operation precisely.
type Manual struct {
	cycles atomic.Uint64
	nanos  atomic.Int64
	step   atomic.Uint64
}

// NewManual returns a manual clock whose cycle counter advances by step per read.
func NewManual(step uint64) *Manual {
	m := &Manual{}
	m.step.Store(step)
	return m
}

// NowCycles implements Clock.
func (m *Manual) NowCycles() uint64 { return m.cycles.Add(m.step.Load()) }

// NowNanos implements Clock.
func (m *Manual) NowNanos() int64 { return m.nanos.Load() }

// SetStep changes the per-read cycle increment.
func (m *Manual) SetStep(step uint64) { m.step.Store(step) }

// Advance moves the nanosecond clock forward.
func (m *Manual) Advance(d time.Duration) { m.nanos.Add(int64(d)) }

// Elapsed returns end-start cycles, tolerating wraparound.
func Elapsed(start, end uint64) uint64 { return end - start }
