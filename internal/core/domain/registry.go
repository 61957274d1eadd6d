package domain

import (
	"sort"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// RegistryItem is anything that can be stored in a Registry
type RegistryItem interface {
	RegistryID() string
}

// Registry is a process-wide keyed store of registrations. It is additive:
// nothing is removed and registering the same id twice keeps both entries.
// Register is safe for concurrent use; the order in which concurrent loads
// register is not meaningful and consumers must look items up by id.
type Registry[T RegistryItem] struct {
	entries cmap.ConcurrentMap[string, []T]
	count   atomic.Int64
}

// NewRegistry creates an empty registry
func NewRegistry[T RegistryItem]() *Registry[T] {
	return &Registry[T]{
		entries: cmap.New[[]T](),
	}
}

// Register adds item under its id
func (r *Registry[T]) Register(item T) {
	r.entries.Upsert(item.RegistryID(), []T{item}, func(exist bool, current []T, added []T) []T {
		if !exist {
			return added
		}
		next := make([]T, 0, len(current)+len(added))
		next = append(next, current...)
		return append(next, added...)
	})
	r.count.Add(1)
}

// Get returns the first item registered under id
func (r *Registry[T]) Get(id string) (T, bool) {
	var zero T
	items, ok := r.entries.Get(id)
	if !ok || len(items) == 0 {
		return zero, false
	}
	return items[0], true
}

// GetAll returns every item registered under id, oldest first
func (r *Registry[T]) GetAll(id string) []T {
	items, ok := r.entries.Get(id)
	if !ok {
		return nil
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}

// Has reports whether at least one item is registered under id
func (r *Registry[T]) Has(id string) bool {
	return r.entries.Has(id)
}

// Len returns the number of registrations, duplicates included
func (r *Registry[T]) Len() int {
	return int(r.count.Load())
}

// IDs returns the registered ids in sorted order
func (r *Registry[T]) IDs() []string {
	ids := r.entries.Keys()
	sort.Strings(ids)
	return ids
}

// List returns all registrations sorted by id
func (r *Registry[T]) List() []T {
	items := r.entries.Items()
	out := make([]T, 0, r.Len())
	for _, id := range r.IDs() {
		out = append(out, items[id]...)
	}
	return out
}
