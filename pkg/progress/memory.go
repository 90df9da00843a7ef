package progress

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store and FileStore. It keeps copies, so
// callers mutating a returned record never change stored state.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	files   map[string]*FileProgress
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		files:   make(map[string]*FileProgress),
	}
}

func (m *MemoryStore) Get(ctx context.Context, unitID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[unitID].Clone(), nil
}

func (m *MemoryStore) Upsert(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.UnitID] = rec.Clone()
	return nil
}

func (m *MemoryStore) ListUnitsOrdered(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) GetFile(ctx context.Context, name string) (*FileProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.files[name].Clone(), nil
}

func (m *MemoryStore) UpsertFile(ctx context.Context, fp *FileProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[fp.FileName] = fp.Clone()
	return nil
}

// Len returns the number of unit records held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
