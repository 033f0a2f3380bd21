package concurrency

import (
	"sync"
	"testing"
)

func TestRing_FIFOAndFull(t *testing.T) {
	r := NewRing[int](4)
	for i := 0; i < 4; i++ {
		if !r.Push(i) {
			t.Fatalf("push %d failed", i)
		}
	}
	if !r.Full() || r.Push(4) {
		t.Fatal("expected full ring")
	}
	if v, ok := r.Peek(); !ok || v != 0 {
		t.Fatalf("peek = %d,%v", v, ok)
	}
	for i := 0; i < 4; i++ {
		v, ok := r.Pop()
		if !ok || v != i {
			t.Fatalf("pop = %d,%v want %d", v, ok, i)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Fatal("expected empty")
	}
	if r.Len() != 0 {
		t.Fatalf("len = %d", r.Len())
	}
}

func TestRing_SingleProducerSingleConsumer(t *testing.T) {
	r := NewRing[int](64)
	const n = 20000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for !r.Push(i) {
			}
		}
	}()
	next := 0
	for next < n {
		if v, ok := r.Pop(); ok {
			if v != next {
				t.Fatalf("out of order: got %d want %d", v, next)
			}
			next++
		}
	}
	wg.Wait()
}
