package store

import (
	"context"
	"sync"
)

// MemoryStore is the in-process KeyValueStore. It is an explicitly
// constructed object with no package-level state: components share data
// only by sharing the same instance.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]string),
	}
}

// Store implements KeyValueStore.
func (s *MemoryStore) Store(ctx context.Context, collection, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]string)
		s.collections[collection] = coll
	}
	coll[key] = value
	return nil
}

// Retrieve implements KeyValueStore.
func (s *MemoryStore) Retrieve(ctx context.Context, collection, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.collections[collection][key]
	return value, ok, nil
}

// Exists implements KeyValueStore.
func (s *MemoryStore) Exists(ctx context.Context, collection, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[collection][key]
	return ok, nil
}

// Compile-time interface check.
var _ KeyValueStore = (*MemoryStore)(nil)
