package concurrency

import "sync/atomic"

// Ring is a bounded single-consumer ring buffer whose cursors are advanced by
// load-check-store rather than a CAS loop:
//
//   - tail is written only by the producer (release store) and read by the
//     consumer (acquire load) to learn how many slots are published.
//   - head is written only by the consumer (release store) and read by the
//     producer (acquire load) to learn how many slots were freed.
//
// Only one producer may call Push at a time. Callers with several producers
// for one ring must serialise them (the routing engine holds a per-mailbox
// producer lock).
type Ring[T any] struct {
	mask  uint64
	_pad0 [56]byte
	head  atomic.Uint64
	_pad1 [56]byte
	tail  atomic.Uint64
	_pad2 [56]byte
	slots []T
}

// NewRing returns a ring with capacity rounded up to a power of two.
func NewRing[T any](capacity uint64) *Ring[T] {
	n := roundPow2(capacity)
	return &Ring[T]{mask: n - 1, slots: make([]T, n)}
}

// Push appends v and reports false when the ring is full.
func (r *Ring[T]) Push(v T) bool {
	tail := r.tail.Load()
	if tail-r.head.Load() > r.mask {
		return false
	}
	r.slots[tail&r.mask] = v
	r.tail.Store(tail + 1)
	return true
}

// Pop removes the oldest value. It must only be called by the consumer.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	head := r.head.Load()
	if head == r.tail.Load() {
		return zero, false
	}
	v := r.slots[head&r.mask]
	r.slots[head&r.mask] = zero
	r.head.Store(head + 1)
	return v, true
}

// Peek returns the oldest value without removing it.
func (r *Ring[T]) Peek() (T, bool) {
	var zero T
	head := r.head.Load()
	if head == r.tail.Load() {
		return zero, false
	}
	return r.slots[head&r.mask], true
}

// Len returns the number of published, unconsumed slots.
func (r *Ring[T]) Len() int { return int(r.tail.Load() - r.head.Load()) }

// Cap returns the slot count.
func (r *Ring[T]) Cap() int { return len(r.slots) }

// Full reports whether Push would fail.
func (r *Ring[T]) Full() bool { return r.tail.Load()-r.head.Load() > r.mask }
