package supervision

// HistorySize is the number of state transitions retained.
const HistorySize = 64

// Transition is one recorded lifecycle change.
type Transition struct {
	Actor ActorID
	From  State
	To    State
	Nanos int64
}

// history is a fixed circular log; the oldest entry is overwritten.
type history struct {
	entries [HistorySize]Transition
	next    int
	n       int
}

func (h *history) add(t Transition) {
	h.entries[h.next] = t
	h.next = (h.next + 1) % HistorySize
	if h.n < HistorySize {
		h.n++
	}
}

// snapshot returns entries oldest first.
func (h *history) snapshot() []Transition {
	out := make([]Transition, 0, h.n)
	start := (h.next - h.n + HistorySize) % HistorySize
	for i := 0; i < h.n; i++ {
		out = append(out, h.entries[(start+i)%HistorySize])
	}
	return out
}
