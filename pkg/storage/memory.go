package storage

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// MemoryStore is an in-process Store. It is safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	latest map[string]Status
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{latest: make(map[string]Status)}
}

func (m *MemoryStore) Put(ctx context.Context, status Status) error {
	if status.Cluster == "" {
		return errors.New("status cluster cannot be empty")
	}
	status.Window = slices.Clone(status.Window)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[status.Cluster] = status
	return nil
}

func (m *MemoryStore) GetLatest(ctx context.Context, cluster string) (Status, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.latest[cluster]
	if !ok {
		return Status{}, false, nil
	}
	s.Window = slices.Clone(s.Window)
	return s, true, nil
}
