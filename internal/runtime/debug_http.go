package runtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/orizon-lang/bitactor/internal/runtime/supervision"
)

// DebugActor describes one actor in a DebugSnapshot.
type DebugActor struct {
	Name       string `json:"name"`
	Handle     string `json:"handle"`
	Live       bool   `json:"live"`
	Meaning    uint8  `json:"meaning"`
	Causal     uint64 `json:"causal"`
	Ticks      uint64 `json:"ticks"`
	Pending    bool   `json:"pending"`
	Compliant  bool   `json:"compliant"`
	Adaptation bool   `json:"adaptation"`
	State      string `json:"state"`
	Restarts   uint64 `json:"restarts"`
	Mailbox    int    `json:"mailbox_depth"`
}

// DebugSnapshot is served on /debug/actors.
type DebugSnapshot struct {
	RunID   string       `json:"run_id"`
	Tick    uint64       `json:"tick"`
	Trinity string       `json:"trinity"`
	Actors  []DebugActor `json:"actors"`
}

// DebugEdge is one entanglement connection, served on /debug/graph.
type DebugEdge struct {
	Domain         int    `json:"domain"`
	Source         string `json:"source"`
	TargetDomain   int    `json:"target_domain"`
	Target         string `json:"target"`
	TriggerMask    uint8  `json:"trigger_mask"`
	HopCount       uint8  `json:"hop_count"`
	LastSignalTick uint64 `json:"last_signal_tick"`
}

// Snapshot describes every spawned actor in spawn order.
func (s *System) Snapshot() DebugSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := DebugSnapshot{
		RunID:   s.RunID.String(),
		Tick:    s.matrix.GlobalTick(),
		Trinity: fmt.Sprintf("%016x", TrinityHash(s.matrix)),
		Actors:  make([]DebugActor, 0, len(s.order)),
	}
	for _, h := range s.order {
		name, _ := s.registry.Name(h)
		da := DebugActor{Name: name, Handle: h.String()}
		d, _ := s.matrix.Domain(int(h.Domain))
		if a, ok := d.Actor(h.Index); ok {
			st := a.Snapshot()
			da.Live = true
			da.Meaning = st.Meaning
			da.Causal = st.Causal
			da.Ticks = st.Ticks
			da.Pending = st.Pending
			da.Compliant = st.Compliant
		}
		da.Adaptation = d.AdaptationEnabled(h.Index)
		if ga, err := s.super.Actor(s.gen[h]); err == nil {
			da.State = ga.State.String()
			da.Restarts = ga.Restarts
			da.Mailbox = s.router.Depth(ga.Mailbox)
		}
		snap.Actors = append(snap.Actors, da)
	}
	return snap
}

// Graph lists the entanglement connections of every domain.
func (s *System) Graph() []DebugEdge {
	s.mu.Lock()
	defer s.mu.Unlock()
	var edges []DebugEdge
	for i := 0; i < s.matrix.n; i++ {
		d := s.matrix.domains[i]
		for _, c := range d.bus.Connections() {
			src, _ := s.registry.Name(Handle{Domain: d.index, Index: c.Source})
			dst, _ := s.registry.Name(Handle{Domain: c.TargetDomain, Index: c.Target})
			edges = append(edges, DebugEdge{
				Domain:         i,
				Source:         src,
				TargetDomain:   int(c.TargetDomain),
				Target:         dst,
				TriggerMask:    c.TriggerMask,
				HopCount:       c.HopCount,
				LastSignalTick: c.LastSignalTick,
			})
		}
	}
	return edges
}

// DebugHandler serves diagnostic JSON documents:
//
//	GET /debug/actors          -> DebugSnapshot
//	GET /debug/graph           -> []DebugEdge
//	GET /debug/history?n=<k>   -> last k supervision transitions (default all)
func (s *System) DebugHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/actors", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.Snapshot())
	})
	mux.HandleFunc("/debug/graph", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.Graph())
	})
	mux.HandleFunc("/debug/history", func(w http.ResponseWriter, r *http.Request) {
		hist := s.super.History()
		if nStr := r.URL.Query().Get("n"); nStr != "" {
			n, err := strconv.Atoi(nStr)
			if err != nil || n < 0 {
				http.Error(w, "invalid n", http.StatusBadRequest)
				return
			}
			if n < len(hist) {
				hist = hist[len(hist)-n:]
			}
		}
		out := make([]debugTransition, len(hist))
		for i, t := range hist {
			out[i] = debugTransition{Actor: t.Actor, From: t.From.String(), To: t.To.String(), Nanos: t.Nanos}
		}
		writeJSON(w, out)
	})
	return mux
}

type debugTransition struct {
	Actor supervision.ActorID `json:"actor"`
	From  string              `json:"from"`
	To    string              `json:"to"`
	Nanos int64               `json:"nanos"`
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
