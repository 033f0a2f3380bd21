package concurrency

import (
	"runtime"
	"sync/atomic"
)

// MPMCQueue is a bounded multi-producer multi-consumer lock-free ring buffer
// based on Dmitry Vyukov's algorithm using per-slot sequence numbers. The
// entanglement signal ring and both directions of the bidirectional channel
// use it, since any goroutine may publish into them.
//
// Ordering per field:
//   - enqueue/dequeue cursors: claimed with CAS (acq_rel).
//   - cell.seq: loaded with acquire before touching val, stored with release
//     after writing (producer) or reading (consumer) val.
type MPMCQueue[T any] struct {
	_pad0   [64]byte
	mask    uint64
	_pad1   [64]byte
	enqueue atomic.Uint64
	_pad2   [64]byte
	dequeue atomic.Uint64
	_pad3   [64]byte
	cells   []cell[T]
}

type cell[T any] struct {
	seq  atomic.Uint64
	_pad [56]byte // cache line padding (approx)
	val  T
}

// NewMPMCQueue creates a new queue with the given capacity (must be power of two; rounded up if not).
func NewMPMCQueue[T any](capacity uint64) *MPMCQueue[T] {
	q := &MPMCQueue[T]{}
	n := roundPow2(capacity)
	q.mask = n - 1
	q.cells = make([]cell[T], n)
	for i := range q.cells {
		q.cells[i].seq.Store(uint64(i))
	}
	return q
}

// Enqueue tries to push v; returns false if the queue is full. It never blocks.
func (q *MPMCQueue[T]) Enqueue(v T) bool {
	for {
		pos := q.enqueue.Load()
		c := &q.cells[pos&q.mask]
		dif := int64(c.seq.Load()) - int64(pos)
		switch {
		case dif == 0:
			if q.enqueue.CompareAndSwap(pos, pos+1) {
				c.val = v
				c.seq.Store(pos + 1)
				return true
			}
		case dif < 0:
			return false
		default:
			// another producer claimed pos; retry with a fresh cursor
			runtime.Gosched()
		}
	}
}

// Dequeue tries to pop into out; returns false if the queue is empty.
func (q *MPMCQueue[T]) Dequeue(out *T) bool {
	var zero T
	for {
		pos := q.dequeue.Load()
		c := &q.cells[pos&q.mask]
		dif := int64(c.seq.Load()) - int64(pos+1)
		switch {
		case dif == 0:
			if q.dequeue.CompareAndSwap(pos, pos+1) {
				*out = c.val
				c.val = zero
				c.seq.Store(pos + q.mask + 1)
				return true
			}
		case dif < 0:
			return false
		default:
			runtime.Gosched()
		}
	}
}

// Len is a racy snapshot of the number of queued items.
func (q *MPMCQueue[T]) Len() int {
	e, d := q.enqueue.Load(), q.dequeue.Load()
	if e < d {
		return 0
	}
	return int(e - d)
}

// Cap returns the slot count.
func (q *MPMCQueue[T]) Cap() int { return len(q.cells) }

// Drain discards every queued item and returns how many were dropped.
func (q *MPMCQueue[T]) Drain() int {
	var v T
	n := 0
	for q.Dequeue(&v) {
		n++
	}
	return n
}

func roundPow2(capacity uint64) uint64 {
	if capacity < 2 {
		capacity = 2
	}
	n := uint64(1)
	for n < capacity {
		n <<= 1
	}
	return n
}
