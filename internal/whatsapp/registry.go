package whatsapp

import (
	"sync"

	"github.com/talkincode/toughwa/internal/whatsapp/provider"
)

// Registry holds the live adapter of each instance. At most one adapter is
// registered per instance id.
type Registry struct {
	mu       sync.RWMutex
	adapters map[int64]provider.Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[int64]provider.Adapter)}
}

func (r *Registry) Get(id int64) (provider.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// Put registers a and returns the adapter it replaced, if any.
func (r *Registry) Put(id int64, a provider.Adapter) provider.Adapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.adapters[id]
	r.adapters[id] = a
	return prev
}

// Remove unregisters and returns the adapter of id.
func (r *Registry) Remove(id int64) provider.Adapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.adapters[id]
	delete(r.adapters, id)
	return a
}

// RemoveIf unregisters id only while a is still its adapter.
func (r *Registry) RemoveIf(id int64, a provider.Adapter) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.adapters[id]; ok && cur == a {
		delete(r.adapters, id)
		return true
	}
	return false
}

// Current reports whether a is the registered adapter of id.
func (r *Registry) Current(id int64, a provider.Adapter) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[id] == a
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

// All returns a snapshot of the registered adapters.
func (r *Registry) All() map[int64]provider.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int64]provider.Adapter, len(r.adapters))
	for id, a := range r.adapters {
		out[id] = a
	}
	return out
}
