package runtime

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	rterrors "github.com/orizon-lang/bitactor/internal/errors"
	"github.com/orizon-lang/bitactor/internal/runtime/actor"
	"github.com/orizon-lang/bitactor/internal/runtime/clock"
	"github.com/orizon-lang/bitactor/internal/runtime/entangle"
)

// MaxDomains is the number of domains a matrix can hold.
const MaxDomains = 8

// Matrix drives up to MaxDomains domains with one global tick.
type Matrix struct {
	clk     clock.Clock
	domains [MaxDomains]*Domain
	active  uint8
	n       int
	tick    atomic.Uint64
}

// NewMatrix creates an empty matrix.
func NewMatrix(clk clock.Clock) *Matrix {
	if clk == nil {
		clk = clock.NewMonotonic()
	}
	return &Matrix{clk: clk}
}

// AddDomain appends a domain using bus for propagation. learningAfter is the
// violation streak that disables adaptation of an actor, 0 never.
func (m *Matrix) AddDomain(bus *entangle.Bus, learningAfter uint32) (*Domain, error) {
	if m.n >= MaxDomains {
		return nil, rterrors.CapacityExhausted("matrix domains", MaxDomains)
	}
	if bus == nil {
		bus = entangle.New(entangle.DefaultConfig, m.clk, nil)
	}
	bus.Attach(uint8(m.n), m.bus)
	d := newDomain(uint8(m.n), bus, m.clk, learningAfter)
	m.domains[m.n] = d
	m.active |= 1 << uint(m.n)
	m.n++
	return d, nil
}

func (m *Matrix) bus(i uint8) *entangle.Bus {
	if int(i) >= m.n {
		return nil
	}
	return m.domains[i].bus
}

// Domain returns domain i.
func (m *Matrix) Domain(i int) (*Domain, error) {
	if i < 0 || i >= m.n {
		return nil, rterrors.InvalidHandle("domain", i)
	}
	return m.domains[i], nil
}

// SetActive enables or disables ticking of domain i.
func (m *Matrix) SetActive(i int, on bool) error {
	if i < 0 || i >= m.n {
		return rterrors.InvalidHandle("domain", i)
	}
	if on {
		m.active |= 1 << uint(i)
	} else {
		m.active &^= 1 << uint(i)
	}
	return nil
}

// ActiveMask returns the domain-active bitmask.
func (m *Matrix) ActiveMask() uint8 { return m.active }

// Domains returns the active domains in index order.
func (m *Matrix) Domains() []*Domain {
	out := make([]*Domain, 0, m.n)
	for i := 0; i < m.n; i++ {
		if m.active&(1<<uint(i)) != 0 {
			out = append(out, m.domains[i])
		}
	}
	return out
}

// GlobalTick returns the number of Tick/TickParallel calls so far.
func (m *Matrix) GlobalTick() uint64 { return m.tick.Load() }

// Tick advances the global tick once and runs every live actor of every
// active domain. It returns the number of actors executed.
func (m *Matrix) Tick(signals []uint64) int {
	global := m.tick.Add(1)
	n := 0
	for _, d := range m.Domains() {
		n += d.tick(signals, global)
	}
	return n
}

// TickParallel is Tick with one goroutine per active domain.
func (m *Matrix) TickParallel(ctx context.Context, signals []uint64) (int, error) {
	global := m.tick.Add(1)
	domains := m.Domains()
	counts := make([]int, len(domains))
	g, ctx := errgroup.WithContext(ctx)
	for i, d := range domains {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			counts[i] = d.tick(signals, global)
			return nil
		})
	}
	err := g.Wait()
	n := 0
	for _, c := range counts {
		n += c
	}
	return n, err
}

// Perf merges the counters of every domain.
func (m *Matrix) Perf() actor.Perf {
	p := actor.NewPerf()
	for i := 0; i < m.n; i++ {
		p.Merge(m.domains[i].perf)
	}
	return p
}

// Actor resolves a handle.
func (m *Matrix) Actor(h Handle) (*actor.Actor, error) {
	d, err := m.Domain(int(h.Domain))
	if err != nil {
		return nil, err
	}
	a, ok := d.Actor(h.Index)
	if !ok {
		return nil, rterrors.InvalidHandle("actor", h)
	}
	return a, nil
}
