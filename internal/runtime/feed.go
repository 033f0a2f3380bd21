package runtime

import (
	rterrors "github.com/orizon-lang/bitactor/internal/errors"
)

// MaxPatterns is the number of trigger patterns a feed holds.
const MaxPatterns = 8

// Feed matches external signals against a domain's trigger patterns.
type Feed struct {
	patterns [MaxPatterns]uint64
	n        int
	matches  uint64
	last     int // index of the last matching pattern, -1 before any match
	lastTick uint64
	hit      bool // matched during the most recent Update
}

func newFeed() Feed { return Feed{last: -1} }

// AddPattern stores a non-zero mask and returns its index.
func (f *Feed) AddPattern(mask uint64) (int, error) {
	if mask == 0 {
		return -1, rterrors.InvalidArgument("feed pattern", mask)
	}
	if f.n >= MaxPatterns {
		return -1, rterrors.CapacityExhausted("feed patterns", MaxPatterns)
	}
	f.patterns[f.n] = mask
	f.n++
	return f.n - 1, nil
}

// Update counts, for tick, every (signal, pattern) pair where the signal
// contains all of the pattern's bits. It returns the matches of this call.
func (f *Feed) Update(signals []uint64, tick uint64) int {
	f.hit = false
	n := 0
	for _, s := range signals {
		for i := 0; i < f.n; i++ {
			p := f.patterns[i]
			if s&p != p {
				continue
			}
			n++
			f.last = i
			f.lastTick = tick
		}
	}
	if n > 0 {
		f.hit = true
		f.matches += uint64(n)
	}
	return n
}

// Matched reports whether the most recent Update matched anything.
func (f *Feed) Matched() bool { return f.hit }

// LastMatch returns the index of the last matching pattern and its tick.
func (f *Feed) LastMatch() (int, uint64) { return f.last, f.lastTick }

// Matches returns the total match count.
func (f *Feed) Matches() uint64 { return f.matches }

// Patterns returns the stored masks.
func (f *Feed) Patterns() []uint64 { return append([]uint64(nil), f.patterns[:f.n]...) }
