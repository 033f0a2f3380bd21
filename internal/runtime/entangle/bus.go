// Package entangle implements the per-domain entanglement bus: directed,
// triggerable connections between actors, hop-bounded signal propagation
// through a fixed ring, and dormant "dark triple" logic that wakes up after
// enough matching signals.
package entangle

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/orizon-lang/bitactor/internal/runtime/actor"
	"github.com/orizon-lang/bitactor/internal/runtime/clock"
	"github.com/orizon-lang/bitactor/internal/runtime/concurrency"
)

const (
	MaxConnections   = 64  // connections per domain
	SignalBufferSize = 256 // queued signals per domain
	MaxDarkTriples   = 64  // one bit per triple in the dormant/active masks
)

// Connection is a directed edge owned by the bus of the source's domain.
// Only HopCount and LastSignalTick change after creation.
type Connection struct {
	Source          actor.ID
	Target          actor.ID
	TargetDomain    uint8
	HopCount        uint8 // remaining hops of the last signal sent over it
	TriggerMask     uint8
	ResponsePattern uint8 // when non-zero, replaces the payload on this edge
	LastSignalTick  uint64
	_               [48]byte
}

// Signal is a queued, not yet delivered, propagation step.
type Signal struct {
	Source  actor.ID
	Target  actor.ID
	Payload uint8
	Hops    uint8  // remaining hop budget after delivery
	Path    uint64 // last eight hops, one byte per actor id, newest in the low byte
}

// ActorTable resolves actor ids of one domain.
type ActorTable interface {
	Actor(id actor.ID) (*actor.Actor, bool)
}

// AdaptationGate is optionally implemented by an ActorTable to keep dark
// triples from mutating actors whose adaptation has been disabled.
type AdaptationGate interface {
	AdaptationEnabled(id actor.ID) bool
}

// Config controls a bus.
type Config struct {
	SignalBufferSize uint64 // ring slots, rounded up to a power of two
	ExpiryCycles     uint64 // active dark triples return to dormant after this age; 0 disables expiry
}

// DefaultConfig is used when New receives a zero Config.
var DefaultConfig = Config{
	SignalBufferSize: SignalBufferSize,
	ExpiryCycles:     1 << 20,
}

// Stats is a snapshot of the bus counters.
type Stats struct {
	Connections         int
	Queued              int
	Propagations        uint64 // signals enqueued
	Delivered           uint64 // signals applied to a target
	BoundedRejections   uint64 // signals refused because the hop budget was spent
	DroppedSignals      uint64 // ring full
	InvalidTargets      uint64 // delivered to an id the table does not know, or to a missing domain
	HopBudgetViolations uint64 // propagate calls that exceeded BudgetCycles
	DarkActivations     uint64
	DarkExpirations     uint64
}

// Bus is owned by one domain and every method must be called by that
// domain's owner. Propagate and ProcessSignals update the connection table
// without locking. The signal ring is multi-producer, so the buses of other
// domains may enqueue cross-domain signals into it while the owner runs.
type Bus struct {
	cfg    Config
	clk    clock.Clock
	log    *zap.Logger
	conns  [MaxConnections]Connection
	nconn  int
	ring   *concurrency.MPMCQueue[Signal]
	tick   atomic.Uint64
	domain uint8
	peers  func(domain uint8) *Bus

	triples  [MaxDarkTriples]DarkTriple
	ntriples int
	dormant  uint64
	active   uint64

	propagations  atomic.Uint64
	delivered     atomic.Uint64
	rejections    atomic.Uint64
	dropped       atomic.Uint64
	invalid       atomic.Uint64
	hopViolations atomic.Uint64
	darkActivated atomic.Uint64
	darkExpired   atomic.Uint64
}

// New creates a bus.
func New(cfg Config, clk clock.Clock, log *zap.Logger) *Bus {
	if cfg.SignalBufferSize == 0 {
		cfg.SignalBufferSize = DefaultConfig.SignalBufferSize
	}
	if clk == nil {
		clk = clock.NewMonotonic()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		cfg:  cfg,
		clk:  clk,
		log:  log,
		ring: concurrency.NewMPMCQueue[Signal](cfg.SignalBufferSize),
	}
}

// Attach sets the domain index of the bus and the resolver used to reach
// the buses of other domains. An unattached bus only knows domain 0.
func (b *Bus) Attach(domain uint8, peers func(domain uint8) *Bus) {
	b.domain = domain
	b.peers = peers
}

// Domain returns the index set by Attach.
func (b *Bus) Domain() uint8 { return b.domain }

// SetTick records the global tick stamped on connections.
func (b *Bus) SetTick(t uint64) { b.tick.Store(t) }

// Create adds a connection. It returns false once MaxConnections exist.
func (b *Bus) Create(source, target actor.ID, triggerMask uint8) bool {
	return b.CreateWithResponse(source, target, triggerMask, 0)
}

// CreateWithResponse is Create with a response pattern that replaces the
// payload travelling over the edge.
func (b *Bus) CreateWithResponse(source, target actor.ID, triggerMask, response uint8) bool {
	return b.CreateCross(source, b.domain, target, triggerMask, response)
}

// CreateCross adds a connection whose target lives in targetDomain. Signals
// over it are delivered by that domain's bus with the remaining hop budget.
func (b *Bus) CreateCross(source actor.ID, targetDomain uint8, target actor.ID, triggerMask, response uint8) bool {
	if b.nconn >= MaxConnections {
		b.log.Debug("entanglement table full",
			zap.Uint8("source", uint8(source)), zap.Uint8("target", uint8(target)))
		return false
	}
	b.conns[b.nconn] = Connection{
		Source:          source,
		Target:          target,
		TargetDomain:    targetDomain,
		TriggerMask:     triggerMask,
		ResponsePattern: response,
	}
	b.nconn++
	return true
}

// Connections returns a copy of the connection table.
func (b *Bus) Connections() []Connection {
	out := make([]Connection, b.nconn)
	copy(out, b.conns[:b.nconn])
	return out
}

// Propagate enqueues one signal per outgoing connection of source whose
// trigger mask matches payload. Each signal carries maxHops-1 remaining
// hops; with no budget left the signal is rejected and counted. It returns
// the number of signals enqueued.
func (b *Bus) Propagate(source actor.ID, payload uint8, maxHops uint8) int {
	if maxHops > actor.MaxHops {
		maxHops = actor.MaxHops
	}
	start := b.clk.NowCycles()
	n := b.emit(source, payload, maxHops, 0)
	if clock.Elapsed(start, b.clk.NowCycles()) > actor.BudgetCycles {
		b.hopViolations.Add(1)
	}
	return n
}

func (b *Bus) emit(from actor.ID, payload uint8, budget uint8, path uint64) int {
	tick := b.tick.Load()
	n := 0
	for i := 0; i < b.nconn; i++ {
		c := &b.conns[i]
		if c.Source != from || c.TriggerMask&payload == 0 {
			continue
		}
		if budget == 0 {
			b.rejections.Add(1)
			continue
		}
		out := payload
		if c.ResponsePattern != 0 {
			out = c.ResponsePattern
		}
		sig := Signal{
			Source:  from,
			Target:  c.Target,
			Payload: out,
			Hops:    budget - 1,
			Path:    path<<8 | uint64(c.Target),
		}
		ring := b.ring
		if c.TargetDomain != b.domain {
			peer := b.peer(c.TargetDomain)
			if peer == nil {
				b.invalid.Add(1)
				continue
			}
			ring = peer.ring
		}
		if !ring.Enqueue(sig) {
			b.dropped.Add(1)
			continue
		}
		c.HopCount = sig.Hops
		c.LastSignalTick = tick
		b.propagations.Add(1)
		n++
	}
	return n
}

func (b *Bus) peer(domain uint8) *Bus {
	if b.peers == nil {
		return nil
	}
	return b.peers(domain)
}

// ProcessSignals drains the ring. Each signal ORs its payload into the
// target actor and marks it pending; the target then forwards the payload
// with whatever hop budget remains. Forwarding goes back through the ring,
// never through recursion. It returns the number of deliveries.
func (b *Bus) ProcessSignals(table ActorTable) int {
	var sig Signal
	n := 0
	for b.ring.Dequeue(&sig) {
		a, ok := table.Actor(sig.Target)
		if !ok {
			b.invalid.Add(1)
			continue
		}
		a.Apply(sig.Payload)
		b.delivered.Add(1)
		n++
		b.emit(sig.Target, sig.Payload, sig.Hops, sig.Path)
	}
	return n
}

// Flush discards queued signals and returns how many were dropped.
func (b *Bus) Flush() int { return b.ring.Drain() }

// Stats returns a counter snapshot.
func (b *Bus) Stats() Stats {
	return Stats{
		Connections:         b.nconn,
		Queued:              b.ring.Len(),
		Propagations:        b.propagations.Load(),
		Delivered:           b.delivered.Load(),
		BoundedRejections:   b.rejections.Load(),
		DroppedSignals:      b.dropped.Load(),
		InvalidTargets:      b.invalid.Load(),
		HopBudgetViolations: b.hopViolations.Load(),
		DarkActivations:     b.darkActivated.Load(),
		DarkExpirations:     b.darkExpired.Load(),
	}
}
