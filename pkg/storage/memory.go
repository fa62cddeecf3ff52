package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-memory Gateway backed by nested maps. It is the default
// backend and the reference implementation of the gateway semantics.
type Memory struct {
	mu        sync.RWMutex
	resources map[string]map[string]Item
}

var _ Gateway = (*Memory)(nil)

// NewMemory creates an empty in-memory gateway.
func NewMemory() *Memory {
	return &Memory{
		resources: make(map[string]map[string]Item),
	}
}

// Seed loads initial items into a resource. Items without an id are assigned
// one. Seeding replaces any previously seeded items with the same id.
func (m *Memory) Seed(resource string, items []Item) {
	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.collection(resource)
	for _, item := range items {
		stored := item.Clone()
		id := stored.ID()
		if id == "" {
			id = uuid.NewString()
			stored[IDField] = id
		}
		coll[id] = stored
	}
}

// collection returns the item map for a resource, creating it if needed.
// Callers must hold the write lock.
func (m *Memory) collection(resource string) map[string]Item {
	coll, ok := m.resources[resource]
	if !ok {
		coll = make(map[string]Item)
		m.resources[resource] = coll
	}
	return coll
}

// GetAll returns every item in the resource.
func (m *Memory) GetAll(_ context.Context, resource string) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	coll := m.resources[resource]
	items := make([]Item, 0, len(coll))
	for _, item := range coll {
		items = append(items, item.Clone())
	}
	return items, nil
}

// GetByID returns a single item by id.
func (m *Memory) GetByID(_ context.Context, resource, id string) (Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.resources[resource][id]
	if !ok {
		return nil, &NotFoundError{Resource: resource, ID: id}
	}
	return item.Clone(), nil
}

// Create stores a new item under a freshly assigned id.
func (m *Memory) Create(_ context.Context, resource string, item Item) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := item.Clone()
	stored[IDField] = uuid.NewString()
	m.collection(resource)[stored.ID()] = stored
	return stored.Clone(), nil
}

// Replace fully replaces an existing item.
func (m *Memory) Replace(_ context.Context, resource string, item Item) (Item, error) {
	return m.put(resource, item)
}

// Update stores a merged item; the merge was applied by the caller.
func (m *Memory) Update(_ context.Context, resource string, item Item) (Item, error) {
	return m.put(resource, item)
}

func (m *Memory) put(resource string, item Item) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := item.ID()
	coll := m.resources[resource]
	if _, ok := coll[id]; !ok {
		return nil, &NotFoundError{Resource: resource, ID: id}
	}
	stored := item.Clone()
	coll[id] = stored
	return stored.Clone(), nil
}

// DeleteByID removes an item; absent items are ignored.
func (m *Memory) DeleteByID(_ context.Context, resource, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.resources[resource], id)
	return nil
}

// DeleteAll removes every item in the resource.
func (m *Memory) DeleteAll(_ context.Context, resource string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.resources, resource)
	return nil
}

// Close is a no-op for the in-memory backend.
func (m *Memory) Close() error {
	return nil
}

// Snapshot returns a deep copy of all stored data, keyed by resource.
// Used by the file backend to persist state.
func (m *Memory) Snapshot() map[string][]Item {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]Item, len(m.resources))
	for resource, coll := range m.resources {
		items := make([]Item, 0, len(coll))
		for _, item := range coll {
			items = append(items, item.Clone())
		}
		out[resource] = items
	}
	return out
}

// Restore replaces all stored data with the given snapshot. Items without an
// id are dropped.
func (m *Memory) Restore(data map[string][]Item) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resources = make(map[string]map[string]Item, len(data))
	for resource, items := range data {
		coll := make(map[string]Item, len(items))
		for _, item := range items {
			if id := item.ID(); id != "" {
				coll[id] = item.Clone()
			}
		}
		m.resources[resource] = coll
	}
}
