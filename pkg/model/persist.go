package model

import (
	"context"
	"sync"

	"github.com/mesh-intelligence/jetstream/pkg/types"
)

// Persist is the storage middleware behind a scope, keyed by object UUID.
// Implementations must be safe for concurrent use.
//
// AddObject fails with types.ErrAlreadyExists when the UUID is stored.
// RemoveObject and UpdateObject fail with types.ErrNotFound when it is not.
// UpdateObject never fails for write conflicts; the last write wins.
// GetObject fails with types.ErrNotFound for a missing UUID and GetObjects
// fails on the first missing UUID.
type Persist interface {
	AddObject(ctx context.Context, o *Object) error
	RemoveObject(ctx context.Context, o *Object) error
	UpdateObject(ctx context.Context, o *Object) error
	ContainsObject(ctx context.Context, id string) (bool, error)
	GetObject(ctx context.Context, id string) (*Object, error)
	GetObjects(ctx context.Context, ids []string) ([]*Object, error)
}

// MemoryPersist is the reference Persist: a UUID-keyed map of live objects.
// UpdateObject only checks presence since objects are mutated in place.
type MemoryPersist struct {
	mu      sync.RWMutex
	objects map[string]*Object
}

// NewMemoryPersist creates an empty store.
func NewMemoryPersist() *MemoryPersist {
	return &MemoryPersist{objects: make(map[string]*Object)}
}

// AddObject stores o.
func (m *MemoryPersist) AddObject(_ context.Context, o *Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[o.uuid]; ok {
		return types.ErrAlreadyExists.Withf("%s", o.uuid)
	}
	m.objects[o.uuid] = o
	return nil
}

// RemoveObject deletes o.
func (m *MemoryPersist) RemoveObject(_ context.Context, o *Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[o.uuid]; !ok {
		return types.ErrNotFound.Withf("%s", o.uuid)
	}
	delete(m.objects, o.uuid)
	return nil
}

// UpdateObject checks that o was added.
func (m *MemoryPersist) UpdateObject(_ context.Context, o *Object) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[o.uuid]; !ok {
		return types.ErrNotFound.Withf("%s", o.uuid)
	}
	return nil
}

// ContainsObject reports whether id is stored.
func (m *MemoryPersist) ContainsObject(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[id]
	return ok, nil
}

// GetObject returns the stored object.
func (m *MemoryPersist) GetObject(_ context.Context, id string) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[id]
	if !ok {
		return nil, types.ErrNotFound.Withf("%s", id)
	}
	return o, nil
}

// GetObjects returns the stored objects in the order requested.
func (m *MemoryPersist) GetObjects(_ context.Context, ids []string) ([]*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Object, 0, len(ids))
	for _, id := range ids {
		o, ok := m.objects[id]
		if !ok {
			return nil, types.ErrNotFound.Withf("%s", id)
		}
		out = append(out, o)
	}
	return out, nil
}

// Len returns the number of stored objects.
func (m *MemoryPersist) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
