package sync

import (
	"sync"

	"github.com/lakowske/netcore/internal/watch"
)

// Registry holds every Synchronizer this installation runs and indexes
// them by the config channels they react to.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]Synchronizer
	ordered []Synchronizer
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Synchronizer)}
}

// Register adds s to the registry. Registering a second synchronizer
// under the same Name replaces the first.
func (r *Registry) Register(s Synchronizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[s.Name()]; !exists {
		r.ordered = append(r.ordered, s)
	} else {
		for i, existing := range r.ordered {
			if existing.Name() == s.Name() {
				r.ordered[i] = s
				break
			}
		}
	}
	r.byName[s.Name()] = s
}

// All returns every registered synchronizer in registration order.
func (r *Registry) All() []Synchronizer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Synchronizer, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// ForChannel returns every synchronizer subscribed to ch, in registration
// order.
func (r *Registry) ForChannel(ch watch.Channel) []Synchronizer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Synchronizer
	for _, s := range r.ordered {
		for _, c := range s.Channels() {
			if c == ch {
				out = append(out, s)
				break
			}
		}
	}
	return out
}
