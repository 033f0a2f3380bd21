package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonotonic_NonDecreasing(t *testing.T) {
	c := NewMonotonic()
	prev := c.NowNanos()
	for i := 0; i < 1000; i++ {
		now := c.NowNanos()
		assert.GreaterOrEqual(t, now, prev)
		prev = now
	}
	a := c.NowCycles()
	b := c.NowCycles()
	assert.GreaterOrEqual(t, b, a)
}

func TestManual_StepAndAdvance(t *testing.T) {
	m := NewManual(3)
	start := m.NowCycles()
	end := m.NowCycles()
	assert.Equal(t, uint64(3), Elapsed(start, end))

	m.SetStep(10)
	assert.Equal(t, uint64(10), Elapsed(end, m.NowCycles()))

	assert.Equal(t, int64(0), m.NowNanos())
	m.Advance(2 * time.Millisecond)
	assert.Equal(t, int64(2*time.Millisecond), m.NowNanos())
}
