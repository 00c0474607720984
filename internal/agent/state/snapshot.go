package state

import (
	"time"

	rsdomain "device-lock-control-plane/internal/ruleset/domain"
)

// State is the device lock state. Values match the server mirror.
type State string

const (
	Unprovisioned State = "UNPROVISIONED"
	Unlocked      State = "UNLOCKED"
	Locked        State = "LOCKED"
)

// Snapshot is an immutable view of the device state. Readers must not modify it or
// anything it points to.
type Snapshot struct {
	// State is the last committed state; use Effective for time-driven decisions.
	State          State
	DeviceID       string
	OwnerID        string
	InstallationID string
	Enrolled       bool

	LockUntil    time.Time
	LockIssuedAt time.Time
	LockID       string

	RuleSet          *rsdomain.RuleSet
	EngagedBackends  []string
	EnforcementError string
	LastSyncedAt     time.Time
}

// Provisioned reports whether the device is bound to an owner.
func (s *Snapshot) Provisioned() bool {
	return s != nil && s.DeviceID != ""
}

// LockedAt reports whether a lock is in force at now. It holds exactly while now < LockUntil.
func (s *Snapshot) LockedAt(now time.Time) bool {
	return s.Provisioned() && now.Before(s.LockUntil)
}

// Effective returns the state at now, applying the time-driven unlock without waiting
// for the machine to commit it.
func (s *Snapshot) Effective(now time.Time) State {
	switch {
	case !s.Provisioned():
		return Unprovisioned
	case s.LockedAt(now):
		return Locked
	default:
		return Unlocked
	}
}

// RuleSetVersion returns the active RuleSet version, 0 if none.
func (s *Snapshot) RuleSetVersion() int64 {
	if s == nil || s.RuleSet == nil {
		return 0
	}
	return s.RuleSet.Version
}
