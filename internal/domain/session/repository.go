package session

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by repositories for unknown session IDs
var ErrNotFound = errors.New("session not found")

// Repository persists session snapshots across restarts
type Repository interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context, id string) (*Snapshot, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// MemoryRepository keeps snapshots in process memory
type MemoryRepository struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{snaps: make(map[string]Snapshot)}
}

func (r *MemoryRepository) Save(_ context.Context, snap *Snapshot) error {
	stored := *snap
	stored.History = append([]string(nil), snap.History...)

	r.mu.Lock()
	r.snaps[snap.ID] = stored
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Load(_ context.Context, id string) (*Snapshot, error) {
	r.mu.RLock()
	stored, ok := r.snaps[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	stored.History = append([]string(nil), stored.History...)
	return &stored, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	delete(r.snaps, id)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Close() error { return nil }
