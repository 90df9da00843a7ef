package cache

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	puts    int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[fingerprint]
	if !ok {
		return nil, nil
	}
	e.Artifact = append([]byte(nil), e.Artifact...)
	return &e, nil
}

func (m *MemoryStore) Exists(ctx context.Context, fingerprint string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[fingerprint]
	return ok, nil
}

func (m *MemoryStore) Put(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *e
	stored.Artifact = append([]byte(nil), e.Artifact...)
	m.entries[e.Fingerprint] = stored
	m.puts++
	return nil
}

// Puts returns how many writes the store has accepted.
func (m *MemoryStore) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}
