package domain

import (
	"time"

	rsdomain "device-lock-control-plane/internal/ruleset/domain"
)

// Enrollment status of a device record.
const (
	StatusPending  = "pending"
	StatusEnrolled = "enrolled"
)

// Device is a provisioned device owned by one owner, with its latest issued lock and
// the state it last reported.
type Device struct {
	ID             string
	OwnerID        string
	Name           string
	Platform       string
	Status         string
	InstallationID string
	Capabilities   []string
	Settings       rsdomain.Settings
	Lock           *Lock
	Mirror         Mirror
	LastSeenAt     *time.Time
	EnrolledAt     *time.Time
	CreatedAt      time.Time
}

// Lock is the most recently issued lock token of a device.
type Lock struct {
	Until    time.Time
	Token    string
	IssuedAt time.Time
}

// Mirror is what the agent last reported. It is informational; the device is authoritative.
type Mirror struct {
	State           string
	LockUntil       *time.Time
	RuleSetVersion  int64
	EngagedBackends []string
	EnforcementErr  string
}

// LockIssuance records one IssueLock call.
type LockIssuance struct {
	JTI       string
	DeviceID  string
	OwnerID   string
	LockUntil time.Time
	IssuedAt  time.Time
	Reason    string
}

// LockedAt reports whether the latest issued lock is still in force at now.
func (d *Device) LockedAt(now time.Time) bool {
	return d != nil && d.Lock != nil && now.Before(d.Lock.Until)
}

// Enrolled reports whether the device has consumed its provisioning token.
func (d *Device) Enrolled() bool {
	return d != nil && d.Status == StatusEnrolled
}
