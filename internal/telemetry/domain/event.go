package domain

import (
	"encoding/json"
	"time"
)

// Event types emitted by the control plane.
const (
	EventDeviceStateReported = "device_state_reported"
	EventLockIssued          = "lock_issued"
	EventDeviceEnrolled      = "device_enrolled"
	EventGRPCRequest         = "grpc_request"
)

// Event is a telemetry event. It is serialized as JSON onto the event bus and read back
// by the worker, so field names are part of the wire format.
type Event struct {
	OwnerID   string          `json:"ownerId,omitempty"`
	DeviceID  string          `json:"deviceId,omitempty"`
	EventType string          `json:"eventType"`
	Source    string          `json:"source"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// DeviceState is the metadata of an EventDeviceStateReported event.
type DeviceState struct {
	State           string     `json:"state"`
	LockUntil       *time.Time `json:"lockUntil,omitempty"`
	RuleSetVersion  int64      `json:"ruleSetVersion"`
	EngagedBackends []string   `json:"engagedBackends,omitempty"`
	EnforcementErr  string     `json:"enforcementError,omitempty"`
}
