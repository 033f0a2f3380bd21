package runtime

import (
	"fmt"
	"sync"

	rterrors "github.com/orizon-lang/bitactor/internal/errors"
	"github.com/orizon-lang/bitactor/internal/runtime/actor"
)

// Handle addresses an actor across the matrix.
type Handle struct {
	Domain uint8
	Index  actor.ID
}

func (h Handle) String() string { return fmt.Sprintf("%d/%d", h.Domain, h.Index) }

// Registry maps unique, case-sensitive names to handles. Lookups scan the
// table linearly; it is sized for hundreds of entries.
type Registry struct {
	mu      sync.RWMutex
	names   []string
	handles []Handle
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// Register binds name to h.
func (r *Registry) Register(name string, h Handle) error {
	if name == "" {
		return rterrors.InvalidArgument("name", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.names {
		if n == name {
			return rterrors.DuplicateName(name)
		}
	}
	r.names = append(r.names, name)
	r.handles = append(r.handles, h)
	return nil
}

// Unregister removes name and reports whether it was bound.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.names {
		if n == name {
			r.names = append(r.names[:i], r.names[i+1:]...)
			r.handles = append(r.handles[:i], r.handles[i+1:]...)
			return true
		}
	}
	return false
}

// Lookup finds the handle bound to name.
func (r *Registry) Lookup(name string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, n := range r.names {
		if n == name {
			return r.handles[i], true
		}
	}
	return Handle{}, false
}

// Name returns the name bound to h.
func (r *Registry) Name(h Handle) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, x := range r.handles {
		if x == h {
			return r.names[i], true
		}
	}
	return "", false
}

// Len returns the number of registered names.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
