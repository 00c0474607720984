package repository

import (
	"context"
	"errors"
	"time"

	"device-lock-control-plane/internal/device/domain"
	rsdomain "device-lock-control-plane/internal/ruleset/domain"
)

var (
	// ErrNotFound is returned by updates that matched no device.
	ErrNotFound = errors.New("device not found")
	// ErrInstallationMismatch is returned when a device is already enrolled by another installation.
	ErrInstallationMismatch = errors.New("device enrolled by another installation")
)

// Repository defines persistence for devices.
type Repository interface {
	// GetByID returns the device, or nil if it does not exist.
	GetByID(ctx context.Context, id string) (*domain.Device, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Device, error)
	Create(ctx context.Context, d *domain.Device) error
	Delete(ctx context.Context, id string) error
	// MarkEnrolled binds the device to installationID. Repeating the call with the same
	// installation is a no-op; a different installation yields ErrInstallationMismatch.
	MarkEnrolled(ctx context.Context, id, installationID string, capabilities []string, at time.Time) error
	UpdateSettings(ctx context.Context, id string, s rsdomain.Settings) error
	// SetLock stores the token as the device's latest lock and records the issuance.
	SetLock(ctx context.Context, iss domain.LockIssuance, token string) error
	UpdateMirror(ctx context.Context, id string, m domain.Mirror, seenAt time.Time) error
}
