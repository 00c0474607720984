package enforce

import (
	"context"
	"errors"
	"testing"
	"time"

	"device-lock-control-plane/internal/agent/state"
	rsdomain "device-lock-control-plane/internal/ruleset/domain"
)

type fakeBackend struct {
	capability  Capability
	available   bool
	engageErr   error
	engages     int
	disengages  int
	engaged     bool
	lastVersion int64
}

func (f *fakeBackend) Capability() Capability { return f.capability }

func (f *fakeBackend) Available() bool { return f.available }

func (f *fakeBackend) Engage(_ context.Context, p Policy) error {
	f.engages++
	if f.engageErr != nil {
		return f.engageErr
	}
	f.engaged = true
	if p.RuleSet != nil {
		f.lastVersion = p.RuleSet.Version
	}
	return nil
}

func (f *fakeBackend) Disengage(context.Context) error {
	f.disengages++
	f.engaged = false
	return nil
}

var now = time.Unix(1_700_000_000, 0).UTC()

func lockedSnapshot(version int64) *state.Snapshot {
	return &state.Snapshot{
		State:     state.Locked,
		DeviceID:  "dev-1",
		LockUntil: now.Add(time.Hour),
		RuleSet:   rsdomain.Build("dev-1", version, rsdomain.DefaultSettings(), now),
	}
}

func unlockedSnapshot() *state.Snapshot {
	return &state.Snapshot{State: state.Unlocked, DeviceID: "dev-1"}
}

func backends() (owner, access, vpn *fakeBackend) {
	return &fakeBackend{capability: OwnerPolicy, available: true},
		&fakeBackend{capability: AccessibilityBlocker, available: true},
		&fakeBackend{capability: VpnFilter, available: true}
}

func TestApply_OwnerPolicyIsSufficient(t *testing.T) {
	owner, access, vpn := backends()
	c := NewCoordinator(nil, owner, access, vpn)

	out, err := c.Apply(context.Background(), lockedSnapshot(1), now)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(out.Engaged) != 1 || out.Engaged[0] != OwnerPolicy {
		t.Errorf("engaged = %v, want [owner_policy]", out.Engaged)
	}
	if access.engaged || vpn.engaged || access.engages != 0 {
		t.Error("fallback backends must not be engaged when owner policy holds")
	}
	if !out.Changed || len(out.Errors) != 0 {
		t.Errorf("outcome = %+v", out)
	}
}

func TestApply_FallsBackWhenOwnerPolicyFails(t *testing.T) {
	owner, access, vpn := backends()
	owner.engageErr = errors.New("not device owner")
	c := NewCoordinator(nil, owner, access, vpn)

	out, err := c.Apply(context.Background(), lockedSnapshot(1), now)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := out.EngagedNames(); len(got) != 2 || got[0] != "accessibility" || got[1] != "vpn" {
		t.Errorf("engaged = %v", got)
	}
	if len(out.Errors) != 1 {
		t.Fatalf("errors = %v", out.Errors)
	}
	var ee *EnforcementError
	if !errors.As(out.Errors[0], &ee) || ee.Capability != OwnerPolicy {
		t.Errorf("error = %v, want EnforcementError for owner_policy", out.Errors[0])
	}
	if !errors.Is(out.Errors[0], ErrCapabilityUnavailable) || !errors.Is(out.Errors[0], owner.engageErr) {
		t.Error("EnforcementError must wrap ErrCapabilityUnavailable and the cause")
	}
	if out.ErrorText() == "" {
		t.Error("ErrorText should describe the failure")
	}
}

func TestApply_DegradedCombination(t *testing.T) {
	_, access, vpn := backends()
	access.available = false
	c := NewCoordinator(nil, access, vpn)

	out, err := c.Apply(context.Background(), lockedSnapshot(1), now)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(out.Engaged) != 1 || out.Engaged[0] != VpnFilter {
		t.Errorf("engaged = %v, want [vpn]", out.Engaged)
	}
	if len(out.Errors) != 1 || !errors.Is(out.Errors[0], ErrCapabilityUnavailable) {
		t.Errorf("errors = %v", out.Errors)
	}
}

func TestApply_NoEnforcementIsAnError(t *testing.T) {
	tests := []struct {
		name     string
		backends []Backend
	}{
		{"no backends", nil},
		{"none available", []Backend{&fakeBackend{capability: VpnFilter}, &fakeBackend{capability: OwnerPolicy}}},
		{"all fail", []Backend{&fakeBackend{capability: VpnFilter, available: true, engageErr: errors.New("tun down")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCoordinator(nil, tt.backends...)
			out, err := c.Apply(context.Background(), lockedSnapshot(1), now)
			if !errors.Is(err, ErrNoEnforcement) {
				t.Fatalf("err = %v, want ErrNoEnforcement", err)
			}
			if len(out.Engaged) != 0 {
				t.Errorf("engaged = %v", out.Engaged)
			}
		})
	}
}

func TestApply_Idempotent(t *testing.T) {
	_, access, vpn := backends()
	c := NewCoordinator(nil, access, vpn)
	ctx := context.Background()

	if _, err := c.Apply(ctx, lockedSnapshot(2), now); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	out, err := c.Apply(ctx, lockedSnapshot(2), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if out.Changed {
		t.Error("same decision should not be reapplied")
	}
	if vpn.engages != 1 || access.engages != 1 {
		t.Errorf("engages = %d/%d, want 1/1", access.engages, vpn.engages)
	}
	if len(out.Engaged) != 2 {
		t.Errorf("engaged = %v", out.Engaged)
	}

	if _, err := c.Apply(ctx, lockedSnapshot(3), now); err != nil {
		t.Fatalf("Apply v3: %v", err)
	}
	if vpn.engages != 2 || vpn.lastVersion != 3 {
		t.Errorf("new ruleset should re-engage: engages=%d version=%d", vpn.engages, vpn.lastVersion)
	}
}

func TestApply_IdempotentWhenDegraded(t *testing.T) {
	owner, access, vpn := backends()
	owner.available = false
	c := NewCoordinator(nil, owner, access, vpn)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		out, err := c.Apply(ctx, lockedSnapshot(3), now.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("Apply %d: %v", i, err)
		}
		if out.Changed != (i == 0) {
			t.Errorf("Apply %d: changed = %v", i, out.Changed)
		}
		if len(out.Errors) != 1 || !errors.Is(out.Errors[0], ErrCapabilityUnavailable) {
			t.Errorf("Apply %d: errors = %v, want owner_policy unavailable", i, out.Errors)
		}
		if len(out.Engaged) != 2 {
			t.Errorf("Apply %d: engaged = %v", i, out.Engaged)
		}
	}
	if access.engages != 1 || vpn.engages != 1 {
		t.Errorf("engages = %d/%d, want 1/1", access.engages, vpn.engages)
	}

	// The platform starts offering owner policy: the same decision is applied again.
	owner.available = true
	out, err := c.Apply(ctx, lockedSnapshot(3), now)
	if err != nil {
		t.Fatalf("Apply after owner policy appeared: %v", err)
	}
	if !out.Changed || len(out.Engaged) != 1 || out.Engaged[0] != OwnerPolicy {
		t.Errorf("outcome = %+v, want owner_policy only", out)
	}
}

func TestApply_NothingAvailableIsStable(t *testing.T) {
	vpn := &fakeBackend{capability: VpnFilter}
	c := NewCoordinator(nil, vpn)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		out, err := c.Apply(ctx, lockedSnapshot(1), now)
		if !errors.Is(err, ErrNoEnforcement) {
			t.Fatalf("Apply %d: err = %v, want ErrNoEnforcement", i, err)
		}
		if out.Changed != (i == 0) {
			t.Errorf("Apply %d: changed = %v", i, out.Changed)
		}
	}
}

func TestApply_RetriesAfterFailure(t *testing.T) {
	vpn := &fakeBackend{capability: VpnFilter, available: true, engageErr: errors.New("tun down")}
	c := NewCoordinator(nil, vpn)
	ctx := context.Background()

	if _, err := c.Apply(ctx, lockedSnapshot(1), now); !errors.Is(err, ErrNoEnforcement) {
		t.Fatalf("err = %v", err)
	}
	vpn.engageErr = nil
	out, err := c.Apply(ctx, lockedSnapshot(1), now)
	if err != nil || !out.Changed || len(out.Engaged) != 1 {
		t.Errorf("retry = %+v, %v", out, err)
	}
}

func TestApply_UnlockDisengagesEverything(t *testing.T) {
	owner, access, vpn := backends()
	owner.engageErr = errors.New("denied")
	c := NewCoordinator(nil, owner, access, vpn)
	ctx := context.Background()

	if _, err := c.Apply(ctx, lockedSnapshot(1), now); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	out, err := c.Apply(ctx, unlockedSnapshot(), now)
	if err != nil {
		t.Fatalf("Apply unlocked: %v", err)
	}
	if len(out.Engaged) != 0 || access.engaged || vpn.engaged {
		t.Errorf("engaged after unlock = %v", out.Engaged)
	}
	if owner.disengages != 1 || access.disengages != 1 || vpn.disengages != 1 {
		t.Errorf("disengages = %d/%d/%d", owner.disengages, access.disengages, vpn.disengages)
	}
}

func TestApply_LockExpiryIsTimeDriven(t *testing.T) {
	_, _, vpn := backends()
	c := NewCoordinator(nil, vpn)
	ctx := context.Background()
	snap := lockedSnapshot(1)

	if _, err := c.Apply(ctx, snap, now); err != nil || !vpn.engaged {
		t.Fatalf("Apply: %v", err)
	}
	// Same snapshot, evaluated after lockUntil.
	out, err := c.Apply(ctx, snap, snap.LockUntil)
	if err != nil {
		t.Fatalf("Apply at lockUntil: %v", err)
	}
	if vpn.engaged || len(out.Engaged) != 0 {
		t.Error("backends should be released once lockUntil passes")
	}
}
