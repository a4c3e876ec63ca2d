package repository

import (
	"sync"
)

// Memory implements Repository over a mutex-guarded map. Stored values
// are kept by reference; callers own copy-on-read semantics.
type Memory struct {
	mu    sync.RWMutex
	store map[string]interface{}
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{store: make(map[string]interface{})}
}

// Save stores or replaces the entity under its id.
func (m *Memory) Save(id string, entity interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[id] = entity
	return nil
}

// FindByID returns the entity and whether it exists.
func (m *Memory) FindByID(id string) (interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entity, ok := m.store[id]
	return entity, ok
}

// FindBy returns all entities matching the predicate.
func (m *Memory) FindBy(pred Predicate) []interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []interface{}
	for _, entity := range m.store {
		if pred == nil || pred(entity) {
			out = append(out, entity)
		}
	}
	return out
}

// BatchDelete removes the given ids, returning how many existed.
func (m *Memory) BatchDelete(ids []string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for _, id := range ids {
		if _, ok := m.store[id]; ok {
			delete(m.store, id)
			deleted++
		}
	}
	return deleted
}

// CountBy counts entities matching the predicate.
func (m *Memory) CountBy(pred Predicate) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, entity := range m.store {
		if pred == nil || pred(entity) {
			n++
		}
	}
	return n
}
