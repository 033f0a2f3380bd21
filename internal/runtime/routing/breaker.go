package routing

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker position for one target.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// breaker opens after threshold consecutive failures reported by the
// caller. With a reset timeout it lets a single trial message through once the
// timeout elapses; the trial's outcome closes or re-opens it. A trial
// with no reported outcome within another reset period is re-armed.
type breaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  uint32
	openedAt  int64
	trialAt   int64
	trialing  bool
	threshold uint32
	reset     time.Duration
}

// allow reports whether a message may pass and whether it is the
// half-open trial message.
func (b *breaker) allow(now int64) (ok, trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		return true, false
	case BreakerOpen:
		if b.reset > 0 && now-b.openedAt >= int64(b.reset) {
			b.state = BreakerHalfOpen
			b.trialing = true
			b.trialAt = now
			return true, true
		}
		return false, false
	default:
		if b.trialing && now-b.trialAt < int64(b.reset) {
			return false, false
		}
		b.trialing = true
		b.trialAt = now
		return true, true
	}
}

// release frees the half-open trial slot when the trial message never
// reached the mailbox.
func (b *breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen {
		b.trialing = false
	}
}

func (b *breaker) failure(now int64) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.trialing = false
	switch {
	case b.state == BreakerHalfOpen:
		b.state = BreakerOpen
		b.openedAt = now
	case b.state == BreakerClosed && b.threshold > 0 && b.failures >= b.threshold:
		b.state = BreakerOpen
		b.openedAt = now
	}
	return b.state
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trialing = false
	b.state = BreakerClosed
}

func (b *breaker) current() (BreakerState, uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.failures
}
