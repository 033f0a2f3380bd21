package actor

import (
	"encoding/binary"

	"golang.org/x/sys/cpu"
)

// BatchTransform XORs key into every element of states in place.
type BatchTransform func(states []uint8, key uint8)

// SelectBatchTransform picks the word-at-a-time implementation on CPUs with
// wide registers and fast unaligned loads, the byte loop elsewhere. Both are
// portable Go; the choice is made once at init.
func SelectBatchTransform() BatchTransform {
	if cpu.X86.HasSSE2 || cpu.ARM64.HasASIMD {
		return xorWords
	}
	return xorBytes
}

func xorBytes(states []uint8, key uint8) {
	for i := range states {
		states[i] ^= key
	}
}

func xorWords(states []uint8, key uint8) {
	wide := uint64(key) * 0x0101010101010101
	i := 0
	for ; i+8 <= len(states); i += 8 {
		w := binary.LittleEndian.Uint64(states[i:])
		binary.LittleEndian.PutUint64(states[i:], w^wide)
	}
	for ; i < len(states); i++ {
		states[i] ^= key
	}
}

// Overwrite replaces the state with v and records the transition in the
// causal vector. Used by batch operations that rewrite many actors at once.
func (a *Actor) Overwrite(v uint8) {
	if v == a.meaning {
		return
	}
	a.meaning = v
	a.causal = a.causal<<1 ^ uint64(v)
}
