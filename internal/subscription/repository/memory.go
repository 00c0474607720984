package repository

import (
	"context"
	"sync"

	"device-lock-control-plane/internal/subscription/domain"
)

// MemoryRepository keeps subscriptions in process memory.
type MemoryRepository struct {
	mu   sync.RWMutex
	subs map[string]domain.Subscription
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{subs: make(map[string]domain.Subscription)}
}

func (r *MemoryRepository) GetByOwner(_ context.Context, ownerID string) (*domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[ownerID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *MemoryRepository) Upsert(_ context.Context, s *domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[s.OwnerID] = *s
	return nil
}
