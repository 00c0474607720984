package repository

import (
	"context"
	"sync"

	"device-lock-control-plane/internal/ruleset/domain"
)

// MemoryRepository keeps RuleSets in process memory. Used when no database is
// configured and in tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string][]*domain.RuleSet
}

// NewMemoryRepository returns an empty in-memory RuleSet repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string][]*domain.RuleSet)}
}

func (r *MemoryRepository) Latest(_ context.Context, deviceID string) (*domain.RuleSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.byID[deviceID]
	if len(list) == 0 {
		return nil, nil
	}
	cp := *list[len(list)-1]
	return &cp, nil
}

func (r *MemoryRepository) Create(_ context.Context, rs *domain.RuleSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.byID[rs.DeviceID]
	if n := len(list); n > 0 && list[n-1].Version >= rs.Version {
		return ErrVersionExists
	}
	cp := *rs
	r.byID[rs.DeviceID] = append(list, &cp)
	return nil
}
