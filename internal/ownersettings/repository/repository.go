package repository

import (
	"context"

	"device-lock-control-plane/internal/ownersettings/domain"
)

// Repository defines persistence for owner lock preferences.
type Repository interface {
	// Get returns the owner's preference, or nil if the owner never set one.
	Get(ctx context.Context, ownerID string) (*domain.LockPreference, error)
	Upsert(ctx context.Context, p *domain.LockPreference) error
}
