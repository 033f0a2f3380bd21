package entangle

import (
	"math/bits"

	"go.uber.org/zap"

	rterrors "github.com/orizon-lang/bitactor/internal/errors"
	"github.com/orizon-lang/bitactor/internal/runtime/actor"
	"github.com/orizon-lang/bitactor/internal/runtime/clock"
)

// DarkTriple is dormant logic bound to one actor. Matching signals count up;
// at Threshold the triple becomes active and ORs Pattern into the target.
type DarkTriple struct {
	Target      actor.ID
	Pattern     uint8
	Threshold   uint8
	Counter     uint8
	ActivatedAt uint64 // cycle reading at activation
}

// RegisterDarkTriple adds a dormant triple and returns its index.
func (b *Bus) RegisterDarkTriple(target actor.ID, pattern, threshold uint8) (int, error) {
	if b.ntriples >= MaxDarkTriples {
		return -1, rterrors.CapacityExhausted("dark triple table", MaxDarkTriples)
	}
	if pattern == 0 {
		return -1, rterrors.InvalidArgument("dark triple pattern", pattern)
	}
	if threshold == 0 {
		threshold = 1
	}
	idx := b.ntriples
	b.triples[idx] = DarkTriple{Target: target, Pattern: pattern, Threshold: threshold}
	b.dormant |= 1 << uint(idx)
	b.ntriples++
	return idx, nil
}

// ActivateDarkTriples counts trigger against every dormant triple whose
// pattern it fully contains. Triples crossing their threshold move to the
// active mask and mutate their target exactly once. It returns the number
// of activations.
func (b *Bus) ActivateDarkTriples(table ActorTable, trigger uint8) int {
	gate, _ := table.(AdaptationGate)
	n := 0
	for m := b.dormant; m != 0; m &= m - 1 {
		i := bits.TrailingZeros64(m)
		t := &b.triples[i]
		if trigger&t.Pattern != t.Pattern {
			continue
		}
		if gate != nil && !gate.AdaptationEnabled(t.Target) {
			continue
		}
		if t.Counter < t.Threshold {
			t.Counter++
		}
		if t.Counter < t.Threshold {
			continue
		}
		a, ok := table.Actor(t.Target)
		if !ok {
			b.invalid.Add(1)
			continue
		}
		a.Apply(t.Pattern)
		t.ActivatedAt = b.clk.NowCycles()
		bit := uint64(1) << uint(i)
		b.dormant &^= bit
		b.active |= bit
		b.darkActivated.Add(1)
		n++
	}
	return n
}

// ExpireDarkTriples returns active triples older than the configured
// expiry to the dormant set with a cleared counter.
func (b *Bus) ExpireDarkTriples(now uint64) int {
	if b.cfg.ExpiryCycles == 0 {
		return 0
	}
	n := 0
	for m := b.active; m != 0; m &= m - 1 {
		i := bits.TrailingZeros64(m)
		t := &b.triples[i]
		if clock.Elapsed(t.ActivatedAt, now) < b.cfg.ExpiryCycles {
			continue
		}
		bit := uint64(1) << uint(i)
		b.active &^= bit
		b.dormant |= bit
		t.Counter = 0
		t.ActivatedAt = 0
		b.darkExpired.Add(1)
		n++
	}
	if n > 0 {
		b.log.Debug("dark triples expired", zap.Int("count", n))
	}
	return n
}

// DarkMasks returns the dormant and active bitmasks.
func (b *Bus) DarkMasks() (dormant, active uint64) { return b.dormant, b.active }

// DarkTriples returns a copy of the registered triples.
func (b *Bus) DarkTriples() []DarkTriple {
	out := make([]DarkTriple, b.ntriples)
	copy(out, b.triples[:b.ntriples])
	return out
}

// CheckDarkMasks verifies that the masks are disjoint and cover every
// registered triple.
func (b *Bus) CheckDarkMasks() error {
	var registered uint64
	if b.ntriples == MaxDarkTriples {
		registered = ^uint64(0)
	} else {
		registered = uint64(1)<<uint(b.ntriples) - 1
	}
	if b.dormant&b.active != 0 || b.dormant|b.active != registered {
		return rterrors.Invariant("dark masks dormant=%#x active=%#x registered=%#x", b.dormant, b.active, registered)
	}
	return nil
}
