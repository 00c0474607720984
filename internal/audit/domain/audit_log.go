// Package domain defines the owner audit trail.
package domain

import "time"

// Actions with a fixed name. Other owner RPCs are recorded under the verb of their method.
const (
	ActionProvisioned     = "provisioned"
	ActionReprovisioned   = "reprovisioned"
	ActionEnrolled        = "enrolled"
	ActionLockIssued      = "lock_issued"
	ActionSettingsUpdated = "settings_updated"
	ActionUpdate          = "update"
)

const (
	ResourceDevice         = "device"
	ResourceLock           = "lock"
	ResourceLockPreference = "lockPreference"
)

// MetadataFailed marks an entry for an RPC that returned an error.
const MetadataFailed = "failed"

// Event is something to put on the trail. The recorder stamps id, client address and time.
type Event struct {
	OwnerID  string
	DeviceID string
	Action   string
	Resource string
	Metadata string
}

// AuditLog is a stored entry. DeviceID is empty for owner-level events such as lock
// preference changes.
type AuditLog struct {
	ID        string
	OwnerID   string
	DeviceID  string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}

// Query selects one page of an owner's trail, newest first. An empty DeviceID matches
// every device and owner-level entries.
type Query struct {
	OwnerID  string
	DeviceID string
	Limit    int32
	Offset   int32
}

// Matches reports whether a belongs to the result set of q, ignoring paging.
func (q Query) Matches(a *AuditLog) bool {
	return a.OwnerID == q.OwnerID && (q.DeviceID == "" || a.DeviceID == q.DeviceID)
}
