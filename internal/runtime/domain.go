package runtime

import (
	"math/bits"

	rterrors "github.com/orizon-lang/bitactor/internal/errors"
	"github.com/orizon-lang/bitactor/internal/runtime/actor"
	"github.com/orizon-lang/bitactor/internal/runtime/clock"
	"github.com/orizon-lang/bitactor/internal/runtime/entangle"
)

// MaxActors is the slot count of a domain.
const MaxActors = 256

// Domain owns up to MaxActors actors, one feed and one entanglement bus. It
// must be driven by one goroutine at a time.
type Domain struct {
	index   uint8
	clk     clock.Clock
	actors  []*actor.Actor // append-only, slot = actor.ID
	live    [MaxActors / 64]uint64
	noAdapt [MaxActors / 64]uint64
	feed    Feed
	bus     *entangle.Bus

	transform actor.BatchTransform
	scratch   []uint8

	learningAfter uint32 // 0 keeps adaptation on
	violations    uint64
	perf          actor.Perf
}

func newDomain(index uint8, bus *entangle.Bus, clk clock.Clock, learningAfter uint32) *Domain {
	return &Domain{
		index:         index,
		clk:           clk,
		feed:          newFeed(),
		bus:           bus,
		transform:     actor.SelectBatchTransform(),
		learningAfter: learningAfter,
		perf:          actor.NewPerf(),
	}
}

// Index returns the domain's position in the matrix.
func (d *Domain) Index() int { return int(d.index) }

// Spawn appends an actor running m.
func (d *Domain) Spawn(m *actor.Manifest) (actor.ID, error) {
	if len(d.actors) >= MaxActors {
		return 0, rterrors.CapacityExhausted("domain actor table", MaxActors)
	}
	id := actor.ID(len(d.actors))
	d.actors = append(d.actors, actor.New(id, m))
	d.setLive(id, true)
	return id, nil
}

// Actor implements entangle.ActorTable. Inactive slots are not returned.
func (d *Domain) Actor(id actor.ID) (*actor.Actor, bool) {
	if int(id) >= len(d.actors) || !d.IsLive(id) {
		return nil, false
	}
	return d.actors[id], true
}

// IsLive reports whether slot id holds an active actor.
func (d *Domain) IsLive(id actor.ID) bool { return d.live[id>>6]&(1<<(id&63)) != 0 }

// Len returns the number of live actors.
func (d *Domain) Len() int {
	n := 0
	for _, w := range d.live {
		n += bits.OnesCount64(w)
	}
	return n
}

// Reset replaces slot id with a fresh actor running m and marks it live.
func (d *Domain) Reset(id actor.ID, m *actor.Manifest) error {
	if int(id) >= len(d.actors) {
		return rterrors.InvalidHandle("actor", id)
	}
	d.actors[id] = actor.New(id, m)
	d.setLive(id, true)
	d.noAdapt[id>>6] &^= 1 << (id & 63)
	return nil
}

// Deactivate takes slot id out of the tick loop. The slot is never reused.
func (d *Domain) Deactivate(id actor.ID) {
	if int(id) < len(d.actors) {
		d.setLive(id, false)
	}
}

func (d *Domain) setLive(id actor.ID, on bool) {
	if on {
		d.live[id>>6] |= 1 << (id & 63)
	} else {
		d.live[id>>6] &^= 1 << (id & 63)
	}
}

// AdaptationEnabled implements entangle.AdaptationGate.
func (d *Domain) AdaptationEnabled(id actor.ID) bool { return d.noAdapt[id>>6]&(1<<(id&63)) == 0 }

// EnableAdaptation re-enables dark-triple activation for id.
func (d *Domain) EnableAdaptation(id actor.ID) { d.noAdapt[id>>6] &^= 1 << (id & 63) }

// Feed returns the domain feed.
func (d *Domain) Feed() *Feed { return &d.feed }

// Bus returns the domain's entanglement bus.
func (d *Domain) Bus() *entangle.Bus { return d.bus }

// Perf returns the aggregated tick counters.
func (d *Domain) Perf() actor.Perf { return d.perf }

// Violations returns the number of over-budget ticks.
func (d *Domain) Violations() uint64 { return d.violations }

// Broadcast XORs key into the meaning of every live actor and returns how
// many were rewritten.
func (d *Domain) Broadcast(key uint8) int {
	d.scratch = d.scratch[:0]
	d.each(func(a *actor.Actor) { d.scratch = append(d.scratch, a.Meaning()) })
	d.transform(d.scratch, key)
	i := 0
	d.each(func(a *actor.Actor) {
		a.Overwrite(d.scratch[i])
		i++
	})
	return i
}

// each calls fn for every live actor in slot order.
func (d *Domain) each(fn func(*actor.Actor)) {
	for w, word := range d.live {
		for m := word; m != 0; m &= m - 1 {
			fn(d.actors[w*64+bits.TrailingZeros64(m)])
		}
	}
}

// tick runs one step of every live actor and returns how many executed.
// Actors are marked pending when signals are present.
func (d *Domain) tick(signals []uint64, global uint64) int {
	d.feed.Update(signals, global)
	d.bus.SetTick(global)
	n := 0
	d.each(func(a *actor.Actor) {
		if len(signals) > 0 {
			a.MarkPending()
		}
		r := a.Tick(d.clk)
		d.perf.Observe(r.Cycles)
		n++
		if r.Compliant {
			return
		}
		d.violations++
		if d.learningAfter > 0 && a.ViolationStreak() >= d.learningAfter {
			id := a.ID()
			d.noAdapt[id>>6] |= 1 << (id & 63)
		}
	})
	return n
}
