package lockv1

import "time"

// Device states as mirrored on the server.
const (
	StateUnprovisioned = "UNPROVISIONED"
	StateUnlocked      = "UNLOCKED"
	StateLocked        = "LOCKED"
)

// Policy values for unclassifiable traffic.
const (
	UnknownSNIAllow = "allow"
	UnknownSNIBlock = "block"
)

// Device is the owner-facing view of a device and its last reported state.
type Device struct {
	ID              string         `json:"id"`
	OwnerID         string         `json:"ownerId"`
	Name            string         `json:"name"`
	Platform        string         `json:"platform"`
	Status          string         `json:"status"`
	Capabilities    []string       `json:"capabilities,omitempty"`
	Settings        DeviceSettings `json:"settings"`
	LockUntil       *time.Time     `json:"lockUntil,omitempty"`
	State           string         `json:"state,omitempty"`
	RuleSetVersion  int64          `json:"ruleSetVersion"`
	EngagedBackends []string       `json:"engagedBackends,omitempty"`
	LastSeenAt      *time.Time     `json:"lastSeenAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// DeviceSettings are the owner-editable blocking options of a device.
type DeviceSettings struct {
	Categories    map[string]bool `json:"categories"`
	CustomDomains []string        `json:"customDomains,omitempty"`
	BlockVPN      bool            `json:"blockVPN"`
}

// RuleSetPolicy holds engine-level flags of a RuleSet.
type RuleSetPolicy struct {
	DefaultUnknownSNI string `json:"defaultUnknownSNI"`
}

// RuleSet is the versioned blocklist sent to a device.
type RuleSet struct {
	DeviceID       string          `json:"deviceId"`
	Version        int64           `json:"version"`
	Categories     map[string]bool `json:"categories"`
	BlockedDomains []string        `json:"blockedDomains"`
	Policy         RuleSetPolicy   `json:"policy"`
	GeneratedAt    time.Time       `json:"generatedAt"`
}

// OwnerService messages.

type CreateProvisioningRequest struct {
	Name     string `json:"name"`
	Platform string `json:"platform"`
}

type CreateProvisioningResponse struct {
	DeviceID  string    `json:"deviceId"`
	Token     string    `json:"token"`
	QRPayload string    `json:"qrPayload"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ReissueProvisioningRequest asks for a fresh provisioning token for a pending device.
type ReissueProvisioningRequest struct {
	DeviceID string `json:"deviceId"`
}

type ReissueProvisioningResponse struct {
	DeviceID  string    `json:"deviceId"`
	Token     string    `json:"token"`
	QRPayload string    `json:"qrPayload"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type ListDevicesRequest struct{}

type ListDevicesResponse struct {
	Devices []*Device `json:"devices"`
}

type GetDeviceRequest struct {
	DeviceID string `json:"deviceId"`
}

type GetDeviceResponse struct {
	Device *Device `json:"device"`
}

// IssueLockRequest sets either LockUntil or DurationMinutes. With neither, the owner's
// preferred duration applies.
type IssueLockRequest struct {
	DeviceID        string     `json:"deviceId"`
	LockUntil       *time.Time `json:"lockUntil,omitempty"`
	DurationMinutes int        `json:"durationMinutes,omitempty"`
	Reason          string     `json:"reason,omitempty"`
}

type IssueLockResponse struct {
	Token     string    `json:"token"`
	LockUntil time.Time `json:"lockUntil"`
}

type UpdateSettingsRequest struct {
	DeviceID string         `json:"deviceId"`
	Settings DeviceSettings `json:"settings"`
}

type UpdateSettingsResponse struct {
	RuleSet *RuleSet `json:"ruleSet"`
}

type DeleteDeviceRequest struct {
	DeviceID string `json:"deviceId"`
}

type DeleteDeviceResponse struct{}

type GetLockPreferenceRequest struct{}

type LockPreference struct {
	Minutes    int `json:"minutes"`
	MaxMinutes int `json:"maxMinutes"`
}

type GetLockPreferenceResponse struct {
	Preference LockPreference `json:"preference"`
}

type SetLockPreferenceRequest struct {
	Minutes int `json:"minutes"`
}

type SetLockPreferenceResponse struct {
	Preference LockPreference `json:"preference"`
}

// DeviceService messages.

type EnrollRequest struct {
	Token          string   `json:"token"`
	InstallationID string   `json:"installationId"`
	Capabilities   []string `json:"capabilities,omitempty"`
}

type EnrollResponse struct {
	DeviceID string `json:"deviceId"`
	OwnerID  string `json:"ownerId"`
}

// GetOwnerLockPreferenceRequest reads the owner's default lock duration from the device.
type GetOwnerLockPreferenceRequest struct {
	DeviceID       string `json:"deviceId"`
	InstallationID string `json:"installationId"`
}

type GetOwnerLockPreferenceResponse struct {
	Preference LockPreference `json:"preference"`
}

type GetLockStatusRequest struct {
	DeviceID       string `json:"deviceId"`
	InstallationID string `json:"installationId"`
}

// GetLockStatusResponse carries the latest lock token, if any was ever issued.
type GetLockStatusResponse struct {
	LockUntil      *time.Time `json:"lockUntil,omitempty"`
	Token          string     `json:"token,omitempty"`
	RuleSetVersion int64      `json:"ruleSetVersion"`
}

type GetRuleSetRequest struct {
	DeviceID       string `json:"deviceId"`
	InstallationID string `json:"installationId"`
	SinceVersion   int64  `json:"sinceVersion"`
}

type GetRuleSetResponse struct {
	Changed bool     `json:"changed"`
	RuleSet *RuleSet `json:"ruleSet,omitempty"`
}

type ReportStateRequest struct {
	DeviceID        string     `json:"deviceId"`
	InstallationID  string     `json:"installationId"`
	State           string     `json:"state"`
	LockUntil       *time.Time `json:"lockUntil,omitempty"`
	RuleSetVersion  int64      `json:"ruleSetVersion"`
	EngagedBackends []string   `json:"engagedBackends,omitempty"`
	EnforcementErr  string     `json:"enforcementError,omitempty"`
	SyncedAt        time.Time  `json:"syncedAt"`
}

type ReportStateResponse struct{}

// HealthService messages.

type ServingStatus string

const (
	ServingStatusServing    ServingStatus = "SERVING"
	ServingStatusNotServing ServingStatus = "NOT_SERVING"
)

type HealthCheckRequest struct{}

type HealthCheckResponse struct {
	Status ServingStatus `json:"status"`
}

// AuditService messages.

type AuditLog struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"deviceId,omitempty"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	IP        string    `json:"ip"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListAuditLogsRequest pages through the caller's audit trail, newest first. A set
// DeviceID restricts the page to that device.
type ListAuditLogsRequest struct {
	DeviceID string `json:"deviceId,omitempty"`
	Limit    int32  `json:"limit,omitempty"`
	Offset   int32  `json:"offset,omitempty"`
}

type ListAuditLogsResponse struct {
	Logs []*AuditLog `json:"logs"`
}

// Device id accessors, safe on nil receivers.

func (x *GetDeviceRequest) GetDeviceID() string {
	if x == nil {
		return ""
	}
	return x.DeviceID
}

func (x *IssueLockRequest) GetDeviceID() string {
	if x == nil {
		return ""
	}
	return x.DeviceID
}

func (x *UpdateSettingsRequest) GetDeviceID() string {
	if x == nil {
		return ""
	}
	return x.DeviceID
}

func (x *DeleteDeviceRequest) GetDeviceID() string {
	if x == nil {
		return ""
	}
	return x.DeviceID
}

func (x *ReissueProvisioningRequest) GetDeviceID() string {
	if x == nil {
		return ""
	}
	return x.DeviceID
}

func (x *GetOwnerLockPreferenceRequest) GetDeviceID() string {
	if x == nil {
		return ""
	}
	return x.DeviceID
}

func (x *GetLockStatusRequest) GetDeviceID() string {
	if x == nil {
		return ""
	}
	return x.DeviceID
}

func (x *GetRuleSetRequest) GetDeviceID() string {
	if x == nil {
		return ""
	}
	return x.DeviceID
}

func (x *ReportStateRequest) GetDeviceID() string {
	if x == nil {
		return ""
	}
	return x.DeviceID
}

func (x *CreateProvisioningResponse) GetDeviceID() string {
	if x == nil {
		return ""
	}
	return x.DeviceID
}
