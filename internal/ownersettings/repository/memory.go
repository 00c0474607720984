package repository

import (
	"context"
	"sync"

	"device-lock-control-plane/internal/ownersettings/domain"
)

// MemoryRepository keeps lock preferences in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	prefs map[string]int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{prefs: make(map[string]int)}
}

func (r *MemoryRepository) Get(_ context.Context, ownerID string) (*domain.LockPreference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.prefs[ownerID]
	if !ok {
		return nil, nil
	}
	return &domain.LockPreference{OwnerID: ownerID, Minutes: m}, nil
}

func (r *MemoryRepository) Upsert(_ context.Context, p *domain.LockPreference) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefs[p.OwnerID] = p.Minutes
	return nil
}
