package repository

import (
	"context"
	"errors"

	"device-lock-control-plane/internal/ruleset/domain"
)

// ErrVersionExists is returned by Create when the device already has a RuleSet with that version.
var ErrVersionExists = errors.New("ruleset version already exists")

// Repository defines persistence for device RuleSets. Rows are append-only; each
// settings change writes the next version.
type Repository interface {
	// Latest returns the highest version for the device, or nil if none exists.
	Latest(ctx context.Context, deviceID string) (*domain.RuleSet, error)
	Create(ctx context.Context, rs *domain.RuleSet) error
}
