package repository

import (
	"context"

	"device-lock-control-plane/internal/subscription/domain"
)

// Repository defines persistence for owner subscriptions.
type Repository interface {
	// GetByOwner returns the owner's subscription, or nil if there is none.
	GetByOwner(ctx context.Context, ownerID string) (*domain.Subscription, error)
	Upsert(ctx context.Context, s *domain.Subscription) error
}
