package repository

import (
	"context"

	"device-lock-control-plane/internal/audit/domain"
)

// Repository stores the audit trail. Entries are append-only.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	List(ctx context.Context, q domain.Query) ([]*domain.AuditLog, error)
}
