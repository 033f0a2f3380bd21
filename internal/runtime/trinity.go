package runtime

import (
	"math/bits"

	"github.com/orizon-lang/bitactor/internal/runtime/actor"
)

// TrinityHash folds every live actor's id, meaning and causal vector, plus
// the global tick, into a 64-bit signature. Two matrices driven through the
// same inputs produce the same value. It is not a cryptographic hash.
func TrinityHash(m *Matrix) uint64 {
	h := uint64(0x8888_8888_8888_8888)
	for i := 0; i < m.n; i++ {
		d := m.domains[i]
		h ^= uint64(d.index) << 56
		d.each(func(a *actor.Actor) {
			h = bits.RotateLeft64(h, 8) ^ (uint64(a.ID())<<8 | uint64(a.Meaning()))
			h ^= a.Causal()
		})
	}
	return h ^ m.GlobalTick()
}
