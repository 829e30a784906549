package raffle

import (
	"context"
	"sync"
)

// Store persists engine snapshots keyed by engine account.
type Store interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	// LoadSnapshot returns ErrSnapshotNotFound when nothing was saved for account.
	LoadSnapshot(ctx context.Context, account string) (Snapshot, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]Snapshot)}
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.Players = append([]string(nil), snap.Players...)
	s.snapshots[snap.Account] = snap
	return nil
}

func (s *MemoryStore) LoadSnapshot(_ context.Context, account string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[account]
	if !ok {
		return Snapshot{}, ErrSnapshotNotFound
	}
	snap.Players = append([]string(nil), snap.Players...)
	return snap, nil
}
