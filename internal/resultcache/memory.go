package resultcache

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and single-instance
// development setups. It enforces the per-item limit the way a real cache
// service would.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
	limit int
}

// NewMemoryStore returns a store with the given per-item payload limit.
func NewMemoryStore(limit int) *MemoryStore {
	return &MemoryStore{
		items: make(map[string][]byte),
		limit: limit,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	if len(value) > s.limit {
		return ErrValueTooLarge
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.items[key] = cp
	return nil
}

func (s *MemoryStore) MaxValueSize() int {
	return s.limit
}

// Delete removes a key. Used by tests to simulate eviction.
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// Corrupt overwrites a stored value in place, bypassing the limit check.
func (s *MemoryStore) Corrupt(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
}
