// Package routing is the L2 layer: per-mailbox priority rings with
// backpressure, a bounded dead-letter ring, and per-target circuit breakers.
// The supervision layer receives failures and sends restart notifications
// through it.
package routing

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	rterrors "github.com/orizon-lang/bitactor/internal/errors"
	"github.com/orizon-lang/bitactor/internal/runtime/clock"
	"github.com/orizon-lang/bitactor/internal/runtime/concurrency"
)

// Config controls an Engine.
type Config struct {
	RingCapacity          uint64        // slots per priority ring
	DeadLetterCapacity    uint64        // dead-letter slots per mailbox
	BackpressureThreshold float64       // fraction of total capacity that triggers shedding
	BreakerThreshold      uint32        // consecutive failures that open a breaker
	BreakerResetTimeout   time.Duration // open -> half-open delay, 0 keeps it open until RecordSuccess
	DefaultTTL            time.Duration // applied when a message has no deadline, 0 disables
	MaxMailboxes          int           // registry limit
}

// DefaultConfig mirrors the runtime defaults.
var DefaultConfig = Config{
	RingCapacity:          64,
	DeadLetterCapacity:    128,
	BackpressureThreshold: 0.75,
	BreakerThreshold:      5,
	BreakerResetTimeout:   time.Second,
	DefaultTTL:            5 * time.Second,
	MaxMailboxes:          1024,
}

// Mailbox holds eight priority rings. Route is the producer side and is
// serialised per mailbox; Dequeue and DeadLetters must be called by a single
// consumer.
type Mailbox struct {
	ID       MailboxID
	Name     string
	rings    [NumPriorities]*concurrency.Ring[ProductionMessage]
	dead     *concurrency.MPMCQueue[ProductionMessage]
	producer sync.Mutex
	brk      breaker
}

// Len returns the number of queued messages across all priorities.
func (mb *Mailbox) Len() int {
	n := 0
	for _, r := range mb.rings {
		n += r.Len()
	}
	return n
}

// Capacity returns the hard capacity across all priorities.
func (mb *Mailbox) Capacity() int { return mb.rings[0].Cap() * NumPriorities }

// Stats of an engine.
type Stats struct {
	Mailboxes         int
	Routed            uint64 // enqueued into a priority ring
	Delivered         uint64 // returned by Dequeue
	Backpressured     uint64 // shed because the mailbox was above threshold
	DeadLettered      uint64 // moved to a dead-letter ring
	DeadLetterDropped uint64 // dead-letter ring was full too
	CircuitRejected   uint64
	Expired           uint64
	Corrupted         uint64
}

// Engine routes ProductionMessages between mailboxes.
type Engine struct {
	cfg       Config
	clk       clock.Clock
	log       *zap.Logger
	mu        sync.RWMutex
	mailboxes []*Mailbox // index = id-1, append-only
	nextID    atomic.Uint64

	routed        atomic.Uint64
	delivered     atomic.Uint64
	backpressured atomic.Uint64
	deadLettered  atomic.Uint64
	deadDropped   atomic.Uint64
	circuit       atomic.Uint64
	expired       atomic.Uint64
	corrupted     atomic.Uint64
}

// NewEngine creates a routing engine. Zero config fields fall back to
// DefaultConfig.
func NewEngine(cfg Config, clk clock.Clock, log *zap.Logger) *Engine {
	if cfg.RingCapacity == 0 {
		cfg.RingCapacity = DefaultConfig.RingCapacity
	}
	if cfg.DeadLetterCapacity == 0 {
		cfg.DeadLetterCapacity = DefaultConfig.DeadLetterCapacity
	}
	if cfg.BackpressureThreshold <= 0 || cfg.BackpressureThreshold > 1 {
		cfg.BackpressureThreshold = DefaultConfig.BackpressureThreshold
	}
	if cfg.MaxMailboxes <= 0 {
		cfg.MaxMailboxes = DefaultConfig.MaxMailboxes
	}
	if clk == nil {
		clk = clock.NewMonotonic()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{cfg: cfg, clk: clk, log: log}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// CreateMailbox registers a uniquely named mailbox.
func (e *Engine) CreateMailbox(name string) (MailboxID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, mb := range e.mailboxes {
		if mb.Name == name {
			return 0, rterrors.DuplicateName(name)
		}
	}
	if len(e.mailboxes) >= e.cfg.MaxMailboxes {
		return 0, rterrors.CapacityExhausted("mailbox registry", e.cfg.MaxMailboxes)
	}
	mb := &Mailbox{
		ID:   MailboxID(len(e.mailboxes) + 1),
		Name: name,
		dead: concurrency.NewMPMCQueue[ProductionMessage](e.cfg.DeadLetterCapacity),
		brk:  breaker{threshold: e.cfg.BreakerThreshold, reset: e.cfg.BreakerResetTimeout},
	}
	for p := range mb.rings {
		mb.rings[p] = concurrency.NewRing[ProductionMessage](e.cfg.RingCapacity)
	}
	e.mailboxes = append(e.mailboxes, mb)
	return mb.ID, nil
}

// Lookup finds a mailbox by name with a linear scan.
func (e *Engine) Lookup(name string) (MailboxID, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, mb := range e.mailboxes {
		if mb.Name == name {
			return mb.ID, true
		}
	}
	return 0, false
}

// Mailbox resolves an id.
func (e *Engine) Mailbox(id MailboxID) (*Mailbox, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if id == 0 || int(id) > len(e.mailboxes) {
		return nil, rterrors.InvalidHandle("mailbox", id)
	}
	return e.mailboxes[id-1], nil
}

// Route validates and enqueues msg into its target's priority ring.
//
// Outcomes, in evaluation order: ErrCircuitOpen for a known-bad target;
// ErrBackpressure when the mailbox is at or above the threshold and the
// priority is above ShedAbovePrio; nil when enqueued; ErrDeadLettered when
// the ring was full and the message went to the dead-letter ring;
// ErrDeadLetterFull when both were full.
func (e *Engine) Route(msg *ProductionMessage) error {
	mb, err := e.Mailbox(msg.Target)
	if err != nil {
		return fmt.Errorf("route: %w", err)
	}
	now := e.clk.NowNanos()
	if msg.ID == 0 {
		msg.ID = e.nextID.Add(1)
	}
	if msg.CreatedNanos == 0 {
		msg.CreatedNanos = now
	}
	if msg.DeadlineNanos == 0 && e.cfg.DefaultTTL > 0 {
		msg.DeadlineNanos = msg.CreatedNanos + int64(e.cfg.DefaultTTL)
	}
	if msg.Priority > LowestPriority {
		msg.Priority = LowestPriority
	}
	if msg.MaxAttempts == 0 {
		msg.MaxAttempts = DefaultAttempts
	}
	msg.Checksum = msg.ComputeChecksum()

	ok, trial := mb.brk.allow(now)
	if !ok {
		e.circuit.Add(1)
		return rterrors.CircuitOpen(uint32(msg.Target))
	}

	mb.producer.Lock()
	defer mb.producer.Unlock()

	depth := mb.Len()
	msg.QueueDepth = uint32(depth)
	if msg.Priority > ShedAbovePrio && float64(depth) >= e.cfg.BackpressureThreshold*float64(mb.Capacity()) {
		e.backpressured.Add(1)
		if trial {
			mb.brk.release()
		}
		return rterrors.NewStandardError(rterrors.CategoryCapacity, "BACKPRESSURE",
			fmt.Sprintf("mailbox %q at %d/%d, priority %d shed", mb.Name, depth, mb.Capacity(), msg.Priority),
			rterrors.ErrBackpressure, map[string]interface{}{"mailbox": mb.ID, "depth": depth})
	}
	if mb.rings[msg.Priority].Push(*msg) {
		e.routed.Add(1)
		return nil
	}
	if trial {
		mb.brk.release()
	}
	return e.deadLetter(mb, msg)
}

func (e *Engine) deadLetter(mb *Mailbox, msg *ProductionMessage) error {
	if mb.dead.Enqueue(*msg) {
		e.deadLettered.Add(1)
		return rterrors.ErrDeadLettered
	}
	e.deadDropped.Add(1)
	e.log.Warn("dead letter ring full, message dropped",
		zap.String("mailbox", mb.Name), zap.Uint64("message", msg.ID))
	return rterrors.ErrDeadLetterFull
}

// Dequeue returns the oldest message of the highest non-empty priority.
// Expired or corrupted messages met on the way are dead-lettered and skipped.
func (e *Engine) Dequeue(id MailboxID) (ProductionMessage, bool) {
	mb, err := e.Mailbox(id)
	if err != nil {
		return ProductionMessage{}, false
	}
	now := e.clk.NowNanos()
	for p := 0; p < NumPriorities; p++ {
		for {
			msg, ok := mb.rings[p].Pop()
			if !ok {
				break
			}
			if msg.Expired(now) {
				e.expired.Add(1)
				_ = e.deadLetter(mb, &msg)
				continue
			}
			if !msg.Valid() {
				e.corrupted.Add(1)
				_ = e.deadLetter(mb, &msg)
				continue
			}
			msg.Attempts++
			e.delivered.Add(1)
			return msg, true
		}
	}
	return ProductionMessage{}, false
}

// DeadLetters drains and returns the dead-letter ring of a mailbox.
func (e *Engine) DeadLetters(id MailboxID) []ProductionMessage {
	mb, err := e.Mailbox(id)
	if err != nil {
		return nil
	}
	var out []ProductionMessage
	var msg ProductionMessage
	for mb.dead.Dequeue(&msg) {
		out = append(out, msg)
	}
	return out
}

// RecordFailure reports a delivery failure for target and returns the new
// breaker state.
func (e *Engine) RecordFailure(target MailboxID) BreakerState {
	mb, err := e.Mailbox(target)
	if err != nil {
		return BreakerClosed
	}
	st := mb.brk.failure(e.clk.NowNanos())
	if st == BreakerOpen {
		e.log.Debug("circuit open", zap.String("mailbox", mb.Name))
	}
	return st
}

// RecordSuccess closes the breaker of target.
func (e *Engine) RecordSuccess(target MailboxID) {
	if mb, err := e.Mailbox(target); err == nil {
		mb.brk.success()
	}
}

// Breaker returns the breaker state and consecutive failures of target.
func (e *Engine) Breaker(target MailboxID) (BreakerState, uint32) {
	mb, err := e.Mailbox(target)
	if err != nil {
		return BreakerClosed, 0
	}
	return mb.brk.current()
}

// Depth returns the queued message count of a mailbox.
func (e *Engine) Depth(id MailboxID) int {
	mb, err := e.Mailbox(id)
	if err != nil {
		return 0
	}
	return mb.Len()
}

// Stats returns a counter snapshot.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	n := len(e.mailboxes)
	e.mu.RUnlock()
	return Stats{
		Mailboxes:         n,
		Routed:            e.routed.Load(),
		Delivered:         e.delivered.Load(),
		Backpressured:     e.backpressured.Load(),
		DeadLettered:      e.deadLettered.Load(),
		DeadLetterDropped: e.deadDropped.Load(),
		CircuitRejected:   e.circuit.Load(),
		Expired:           e.expired.Load(),
		Corrupted:         e.corrupted.Load(),
	}
}
