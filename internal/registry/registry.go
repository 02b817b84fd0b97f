// Package registry tracks which display name each live connection has
// registered under. It is the only state shared between connections.
package registry

import (
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ID identifies one accepted connection for its whole lifetime.
type ID string

// NewID returns a fresh process-unique connection identity.
func NewID() ID {
	return ID(uuid.NewString())
}

// Registry maps connection identities to display names.
// All operations are serialized by a single mutex.
type Registry struct {
	mu    sync.Mutex
	names map[ID]string
	order []ID // first-registration order, drives Snapshot
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		names: make(map[ID]string),
	}
}

// Register inserts or overwrites the name for id. An overwrite keeps the
// identity's original position in the roster.
func (r *Registry) Register(id ID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.names[id]; !exists {
		r.order = append(r.order, id)
	}
	r.names[id] = name
}

// Unregister removes id and reports whether it was present.
func (r *Registry) Unregister(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.names[id]; !exists {
		return false
	}
	delete(r.names, id)
	r.order = lo.Without(r.order, id)
	return true
}

// Resolve returns the name registered for id.
func (r *Registry) Resolve(id ID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.names[id]
	return name, ok
}

// Snapshot returns the roster in registration order.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return lo.Map(r.order, func(id ID, _ int) string {
		return r.names[id]
	})
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.names)
}
