// Package bidi carries messages between the routing and supervision layers
// on two independent bounded rings and correlates request/response pairs to
// measure round-trip latency.
package bidi

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/orizon-lang/bitactor/internal/runtime/clock"
	"github.com/orizon-lang/bitactor/internal/runtime/concurrency"
	"github.com/orizon-lang/bitactor/internal/runtime/routing"
)

// Direction selects one of the two rings.
type Direction uint8

const (
	ToSupervision Direction = iota // routing -> supervision
	ToRouting                      // supervision -> routing
)

func (d Direction) String() string {
	if d == ToSupervision {
		return "to_supervision"
	}
	return "to_routing"
}

func (d Direction) reverse() Direction { return d ^ 1 }

// Config for a Channel.
type Config struct {
	RingCapacity uint64 // slots per direction
	TableSize    int    // correlation slots, keyed by correlation id modulo size
}

// DefaultConfig holds the runtime defaults.
var DefaultConfig = Config{RingCapacity: 256, TableSize: 256}

// Stats of a Channel. RTT values are nanoseconds; Min/Max/Avg are zero until
// the first response.
type Stats struct {
	Sent               [2]uint64
	Received           [2]uint64
	LostMessages       uint64 // ring full
	Requests           uint64
	Responses          uint64
	DuplicateResponses uint64 // responses with no pending request, dropped
	Collisions         uint64 // pending request overwritten by another correlation id
	MinRTT             int64
	MaxRTT             int64
	AvgRTT             float64
}

type pending struct {
	correlation uint64
	sentAt      int64
	dir         Direction
	state       uint8
}

const (
	slotFree uint8 = iota
	slotPending
	slotAnswered
)

// Channel is safe for concurrent producers and consumers on both rings.
type Channel struct {
	rings [2]*concurrency.MPMCQueue[routing.ProductionMessage]
	clk   clock.Clock

	sent     [2]atomic.Uint64
	received [2]atomic.Uint64
	lost     atomic.Uint64

	mu       sync.Mutex // guards table and the RTT fields below
	table    []pending
	requests uint64
	answers  uint64
	dups     uint64
	collide  uint64
	minRTT   int64
	maxRTT   int64
	sumRTT   int64
}

// New creates a Channel. Zero config fields take DefaultConfig values.
func New(cfg Config, clk clock.Clock) *Channel {
	if cfg.RingCapacity == 0 {
		cfg.RingCapacity = DefaultConfig.RingCapacity
	}
	if cfg.TableSize <= 0 {
		cfg.TableSize = DefaultConfig.TableSize
	}
	if clk == nil {
		clk = clock.NewMonotonic()
	}
	c := &Channel{clk: clk, table: make([]pending, cfg.TableSize), minRTT: math.MaxInt64}
	for i := range c.rings {
		c.rings[i] = concurrency.NewMPMCQueue[routing.ProductionMessage](cfg.RingCapacity)
	}
	return c
}

// Send enqueues msg on the dir ring and reports whether it was accepted.
//
// A non-zero correlation id pending in the opposite direction marks msg as
// the response: the round trip is measured and the slot cleared. A second
// response for an answered correlation is dropped. Any other non-zero
// correlation id starts a request. The table changes only when the ring
// accepts msg.
func (c *Channel) Send(dir Direction, msg *routing.ProductionMessage) bool {
	if msg.CorrelationID == 0 {
		return c.enqueue(dir, msg)
	}
	now := c.clk.NowNanos()
	c.mu.Lock()
	defer c.mu.Unlock()
	slot := &c.table[msg.CorrelationID%uint64(len(c.table))]
	kind := classify(slot, dir, msg.CorrelationID)
	if kind == sendDuplicate {
		c.dups++
		return false
	}
	if !c.enqueue(dir, msg) {
		return false
	}
	switch kind {
	case sendResponse:
		c.observe(now - slot.sentAt)
		slot.state = slotAnswered
	case sendRequest:
		if slot.state == slotPending {
			c.collide++
		}
		*slot = pending{correlation: msg.CorrelationID, sentAt: now, dir: dir, state: slotPending}
		c.requests++
	}
	return true
}

func (c *Channel) enqueue(dir Direction, msg *routing.ProductionMessage) bool {
	if !c.rings[dir&1].Enqueue(*msg) {
		c.lost.Add(1)
		return false
	}
	c.sent[dir&1].Add(1)
	return true
}

// Receive dequeues the oldest message of the dir ring.
func (c *Channel) Receive(dir Direction) (routing.ProductionMessage, bool) {
	var msg routing.ProductionMessage
	if !c.rings[dir&1].Dequeue(&msg) {
		return msg, false
	}
	c.received[dir&1].Add(1)
	return msg, true
}

// Len returns the queued message count of a direction.
func (c *Channel) Len(dir Direction) int { return c.rings[dir&1].Len() }

// Cap returns the slot count of a direction.
func (c *Channel) Cap(dir Direction) int { return c.rings[dir&1].Cap() }

type sendKind uint8

const (
	sendRequest sendKind = iota
	sendRetransmit
	sendResponse
	sendDuplicate
)

// classify reads slot without changing it.
func classify(slot *pending, dir Direction, id uint64) sendKind {
	if slot.correlation == id && slot.dir == dir.reverse() {
		switch slot.state {
		case slotPending:
			return sendResponse
		case slotAnswered:
			return sendDuplicate
		}
	}
	if slot.state == slotPending && slot.correlation == id && slot.dir == dir {
		// retransmission keeps the original timestamp
		return sendRetransmit
	}
	return sendRequest
}

func (c *Channel) observe(rtt int64) {
	if rtt < 0 {
		rtt = 0
	}
	c.answers++
	c.sumRTT += rtt
	if rtt < c.minRTT {
		c.minRTT = rtt
	}
	if rtt > c.maxRTT {
		c.maxRTT = rtt
	}
}

// Stats returns a snapshot.
func (c *Channel) Stats() Stats {
	st := Stats{LostMessages: c.lost.Load()}
	for i := range st.Sent {
		st.Sent[i] = c.sent[i].Load()
		st.Received[i] = c.received[i].Load()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st.Requests = c.requests
	st.Responses = c.answers
	st.DuplicateResponses = c.dups
	st.Collisions = c.collide
	if c.answers > 0 {
		st.MinRTT = c.minRTT
		st.MaxRTT = c.maxRTT
		st.AvgRTT = float64(c.sumRTT) / float64(c.answers)
	}
	return st
}
