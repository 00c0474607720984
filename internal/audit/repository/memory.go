package repository

import (
	"context"
	"sync"

	"device-lock-control-plane/internal/audit/domain"
)

// MemoryRepository keeps the trail in process memory, oldest entry first.
type MemoryRepository struct {
	mu   sync.RWMutex
	logs []domain.AuditLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(_ context.Context, a *domain.AuditLog) error {
	r.mu.Lock()
	r.logs = append(r.logs, *a)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) List(_ context.Context, q domain.Query) ([]*domain.AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*domain.AuditLog{}
	skip := q.Offset
	for i := len(r.logs) - 1; i >= 0; i-- {
		if q.Limit > 0 && int32(len(out)) == q.Limit {
			break
		}
		a := r.logs[i]
		if !q.Matches(&a) {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		out = append(out, &a)
	}
	return out, nil
}
