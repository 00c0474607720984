// Package store persists the device agent's lock state so a restart or reboot resumes
// enforcement from where it left off.
package store

import (
	"context"
	"time"

	rsdomain "device-lock-control-plane/internal/ruleset/domain"
)

// Record is the persisted device-local state. The zero LockUntil means no lock was ever applied.
type Record struct {
	DeviceID       string
	OwnerID        string
	InstallationID string
	// ProvisionToken is kept until the server acknowledges enrollment.
	ProvisionToken string
	Enrolled       bool

	// LockToken is the last applied lock token; LockUntil, LockIssuedAt and LockID are its decoded claims.
	LockToken    string
	LockUntil    time.Time
	LockIssuedAt time.Time
	LockID       string

	RuleSet          *rsdomain.RuleSet
	EngagedBackends  []string
	EnforcementError string
	LastSyncedAt     time.Time
	UpdatedAt        time.Time
}

// Store loads and saves the single device record.
type Store interface {
	// Load returns the stored record, or nil if the device was never provisioned.
	Load(ctx context.Context) (*Record, error)
	Save(ctx context.Context, r *Record) error
	// Clear removes the record on unenroll.
	Clear(ctx context.Context) error
}

func clone(r *Record) *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.EngagedBackends = append([]string(nil), r.EngagedBackends...)
	if r.RuleSet != nil {
		cp.RuleSet = CloneRuleSet(r.RuleSet)
	}
	return &cp
}

// CloneRuleSet returns a deep copy of rs.
func CloneRuleSet(rs *rsdomain.RuleSet) *rsdomain.RuleSet {
	if rs == nil {
		return nil
	}
	cp := *rs
	cp.BlockedDomains = append([]string(nil), rs.BlockedDomains...)
	cp.Categories = make(map[string]bool, len(rs.Categories))
	for k, v := range rs.Categories {
		cp.Categories[k] = v
	}
	return &cp
}
