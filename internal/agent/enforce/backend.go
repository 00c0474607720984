// Package enforce maps the device's locked/unlocked decision onto the enforcement
// backends the platform offers.
package enforce

import (
	"context"
	"errors"
	"fmt"
	"time"

	rsdomain "device-lock-control-plane/internal/ruleset/domain"
)

// Capability names an enforcement backend. Values match the agent configuration.
type Capability string

const (
	OwnerPolicy          Capability = "owner_policy"
	AccessibilityBlocker Capability = "accessibility"
	VpnFilter            Capability = "vpn"
)

var (
	// ErrCapabilityUnavailable is wrapped by every EnforcementError.
	ErrCapabilityUnavailable = errors.New("enforcement capability unavailable")
	// ErrNoEnforcement is returned when the device is locked and no backend could be engaged.
	ErrNoEnforcement = errors.New("no enforcement backend engaged while locked")
)

// Policy is what a backend enforces while engaged.
type Policy struct {
	LockUntil time.Time
	RuleSet   *rsdomain.RuleSet
}

// Backend is one enforcement mechanism.
type Backend interface {
	Capability() Capability
	// Available reports whether the platform currently supports the backend.
	Available() bool
	// Engage starts or updates enforcement of p. It may be called again with a new policy.
	Engage(ctx context.Context, p Policy) error
	Disengage(ctx context.Context) error
}

// EnforcementError reports a backend that could not be engaged or released.
type EnforcementError struct {
	Capability Capability
	Err        error
}

func (e *EnforcementError) Error() string {
	if e.Err == nil || errors.Is(e.Err, ErrCapabilityUnavailable) {
		return fmt.Sprintf("%s: %v", e.Capability, ErrCapabilityUnavailable)
	}
	return fmt.Sprintf("%s: %v: %v", e.Capability, ErrCapabilityUnavailable, e.Err)
}

func (e *EnforcementError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCapabilityUnavailable}
	}
	return []error{ErrCapabilityUnavailable, e.Err}
}
