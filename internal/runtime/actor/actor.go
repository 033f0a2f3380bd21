// Package actor implements the atomic execution unit of the runtime: a
// fixed-size state machine stepping through its own copy of compiled
// bytecode under an 8-cycle budget, and the 8-stage cognitive cycle run on
// top of it.
package actor

import (
	"github.com/orizon-lang/bitactor/internal/runtime/clock"
)

// Trinity ceilings shared by every hot-path operation.
const (
	BudgetCycles = 8   // cycles per tick
	MaxHops      = 8   // propagation hops
	MaxBytecode  = 256 // bytes per actor buffer
)

// ID indexes an actor inside its domain arena.
type ID uint8

// Flag is the actor status bit set.
type Flag uint8

const (
	FlagValid Flag = 1 << iota
	FlagPendingSignal
	FlagCompliant
)

// Actor is owned by exactly one domain and must not be mutated by two
// goroutines at once.
type Actor struct {
	id           ID
	meaning      uint8
	flags        Flag
	offset       uint16
	codeLen      uint16
	ticks        uint64
	causal       uint64
	lastCycles   uint64
	streak       uint32 // consecutive budget violations
	manifestHash uint64
	code         [MaxBytecode]byte
	perf         Perf
}

// State is an immutable snapshot of an actor.
type State struct {
	ID           ID
	Meaning      uint8
	Pending      bool
	Compliant    bool
	Offset       int
	Ticks        uint64
	Causal       uint64
	LastCycles   uint64
	CodeLen      int
	ManifestHash uint64
	Perf         Perf
}

// TickResult reports the cost of one tick.
type TickResult struct {
	Cycles    uint64
	Compliant bool
}

// New creates an actor whose bytecode is copied out of m.
func New(id ID, m *Manifest) *Actor {
	a := &Actor{id: id, flags: FlagValid}
	if m != nil {
		a.codeLen = uint16(copy(a.code[:], m.bytecode))
		a.manifestHash = m.hash
	}
	a.perf.reset()
	return a
}

// ID returns the arena index.
func (a *Actor) ID() ID { return a.id }

// Meaning returns the 8-bit state.
func (a *Actor) Meaning() uint8 { return a.meaning }

// Causal returns the causal vector.
func (a *Actor) Causal() uint64 { return a.causal }

// Ticks returns the tick counter.
func (a *Actor) Ticks() uint64 { return a.ticks }

// Pending reports whether a signal is waiting.
func (a *Actor) Pending() bool { return a.flags&FlagPendingSignal != 0 }

// Compliant reports whether the last tick stayed within BudgetCycles.
func (a *Actor) Compliant() bool { return a.flags&FlagCompliant != 0 }

// ViolationStreak returns the number of consecutive over-budget ticks.
func (a *Actor) ViolationStreak() uint32 { return a.streak }

// Perf returns the execution counters.
func (a *Actor) Perf() Perf { return a.perf }

// MarkPending sets the pending-signal flag.
func (a *Actor) MarkPending() { a.flags |= FlagPendingSignal }

// ClearPending clears the pending-signal flag.
func (a *Actor) ClearPending() { a.flags &^= FlagPendingSignal }

// Apply ORs a delivered payload into the state and marks the actor pending.
func (a *Actor) Apply(payload uint8) {
	a.meaning |= payload
	a.flags |= FlagPendingSignal
}

// Tick performs one bytecode step: XOR the state with the byte at the
// current offset and advance the offset modulo the bytecode length. The
// elapsed cycle count decides compliance; an over-budget tick is counted but
// never rolled back.
func (a *Actor) Tick(clk clock.Clock) TickResult {
	start := clk.NowCycles()

	if a.codeLen > 0 {
		a.meaning ^= a.code[a.offset]
		a.offset++
		if a.offset >= a.codeLen {
			a.offset = 0
		}
	}
	a.flags |= FlagValid
	a.causal = a.causal<<1 ^ uint64(a.meaning)
	a.ticks++

	elapsed := clock.Elapsed(start, clk.NowCycles())
	a.lastCycles = elapsed
	compliant := elapsed <= BudgetCycles
	if compliant {
		a.flags |= FlagCompliant
		a.streak = 0
	} else {
		a.flags &^= FlagCompliant
		a.streak++
	}
	a.perf.Observe(elapsed)
	return TickResult{Cycles: elapsed, Compliant: compliant}
}

// Snapshot returns the current state.
func (a *Actor) Snapshot() State {
	return State{
		ID:           a.id,
		Meaning:      a.meaning,
		Pending:      a.Pending(),
		Compliant:    a.Compliant(),
		Offset:       int(a.offset),
		Ticks:        a.ticks,
		Causal:       a.causal,
		LastCycles:   a.lastCycles,
		CodeLen:      int(a.codeLen),
		ManifestHash: a.manifestHash,
		Perf:         a.perf,
	}
}
