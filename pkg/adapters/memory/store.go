package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/loomwm/loom/pkg/domain"
)

// Store implements ports.SnapshotStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.Snapshot
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.Snapshot),
	}
}

// Save keeps a deep copy of the snapshot.
func (s *Store) Save(ctx context.Context, canvasID string, snap *domain.Snapshot) error {
	c := snap.Clone()
	c.CanvasID = canvasID

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[canvasID] = c
	return nil
}

// Load retrieves a copy of the snapshot so callers cannot mutate the store.
func (s *Store) Load(ctx context.Context, canvasID string) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.data[canvasID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return snap.Clone(), nil
}

// Delete removes the snapshot.
func (s *Store) Delete(ctx context.Context, canvasID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, canvasID)
	return nil
}

// List returns stored canvas ids in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
