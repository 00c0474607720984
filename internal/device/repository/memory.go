package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"device-lock-control-plane/internal/device/domain"
	rsdomain "device-lock-control-plane/internal/ruleset/domain"
)

// MemoryRepository keeps devices in process memory. Used when no database is
// configured and in tests.
type MemoryRepository struct {
	mu        sync.RWMutex
	devices   map[string]*domain.Device
	issuances []domain.LockIssuance
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{devices: make(map[string]*domain.Device)}
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, nil
	}
	return clone(d), nil
}

func (r *MemoryRepository) ListByOwner(_ context.Context, ownerID string) ([]*domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Device
	for _, d := range r.devices {
		if d.OwnerID == ownerID {
			out = append(out, clone(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) Create(_ context.Context, d *domain.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := clone(d)
	if cp.Status == "" {
		cp.Status = domain.StatusPending
	}
	r.devices[d.ID] = cp
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[id]; !ok {
		return ErrNotFound
	}
	delete(r.devices, id)
	return nil
}

func (r *MemoryRepository) MarkEnrolled(_ context.Context, id, installationID string, capabilities []string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return ErrNotFound
	}
	if d.InstallationID != "" && d.InstallationID != installationID {
		return ErrInstallationMismatch
	}
	d.Status = domain.StatusEnrolled
	d.InstallationID = installationID
	d.Capabilities = append([]string(nil), capabilities...)
	if d.EnrolledAt == nil {
		t := at
		d.EnrolledAt = &t
	}
	return nil
}

func (r *MemoryRepository) UpdateSettings(_ context.Context, id string, s rsdomain.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return ErrNotFound
	}
	d.Settings = cloneSettings(s)
	return nil
}

func (r *MemoryRepository) SetLock(_ context.Context, iss domain.LockIssuance, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[iss.DeviceID]
	if !ok {
		return ErrNotFound
	}
	d.Lock = &domain.Lock{Until: iss.LockUntil, Token: token, IssuedAt: iss.IssuedAt}
	r.issuances = append(r.issuances, iss)
	return nil
}

func (r *MemoryRepository) UpdateMirror(_ context.Context, id string, m domain.Mirror, seenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return ErrNotFound
	}
	m.EngagedBackends = append([]string(nil), m.EngagedBackends...)
	d.Mirror = m
	t := seenAt
	d.LastSeenAt = &t
	return nil
}

// Issuances returns the recorded lock issuances for deviceID in issue order.
func (r *MemoryRepository) Issuances(deviceID string) []domain.LockIssuance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.LockIssuance
	for _, iss := range r.issuances {
		if iss.DeviceID == deviceID {
			out = append(out, iss)
		}
	}
	return out
}

func clone(d *domain.Device) *domain.Device {
	cp := *d
	cp.Capabilities = append([]string(nil), d.Capabilities...)
	cp.Settings = cloneSettings(d.Settings)
	if d.Lock != nil {
		l := *d.Lock
		cp.Lock = &l
	}
	cp.Mirror.EngagedBackends = append([]string(nil), d.Mirror.EngagedBackends...)
	return &cp
}

func cloneSettings(s rsdomain.Settings) rsdomain.Settings {
	out := rsdomain.Settings{BlockVPN: s.BlockVPN, CustomDomains: append([]string(nil), s.CustomDomains...)}
	if s.Categories != nil {
		out.Categories = make(map[string]bool, len(s.Categories))
		for k, v := range s.Categories {
			out.Categories[k] = v
		}
	}
	return out
}
