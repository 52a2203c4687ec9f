package store

import (
	"context"
	"sync"
)

// MemoryDB is an in-memory implementation of the store, used in tests and
// for ephemeral deployments where durability across daemon restarts is not
// needed.
type MemoryDB struct {
	mu     sync.RWMutex
	scopes map[string]map[string]string
}

// NewMemoryDB creates a new in-memory store.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{scopes: make(map[string]map[string]string)}
}

// Scope returns the view owned by one container identity.
func (m *MemoryDB) Scope(containerID string) StateStore {
	return &memoryScope{db: m, containerID: containerID}
}

// Close is a no-op for the in-memory store.
func (m *MemoryDB) Close() error {
	return nil
}

type memoryScope struct {
	db          *MemoryDB
	containerID string
}

func (s *memoryScope) Get(ctx context.Context, key string) (string, bool, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	kv, ok := s.db.scopes[s.containerID]
	if !ok {
		return "", false, nil
	}
	value, ok := kv[key]
	return value, ok, nil
}

func (s *memoryScope) Put(ctx context.Context, key, value string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	kv, ok := s.db.scopes[s.containerID]
	if !ok {
		kv = make(map[string]string)
		s.db.scopes[s.containerID] = kv
	}
	kv[key] = value
	return nil
}

func (s *memoryScope) Delete(ctx context.Context, key string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if kv, ok := s.db.scopes[s.containerID]; ok {
		delete(kv, key)
	}
	return nil
}

func (s *memoryScope) DeleteAll(ctx context.Context) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	delete(s.db.scopes, s.containerID)
	return nil
}
