package handler

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc/codes"

	"device-lock-control-plane/internal/api/lockv1"
	teldomain "device-lock-control-plane/internal/telemetry/domain"
)

func (f *fixture) enroll(t *testing.T, p *lockv1.CreateProvisioningResponse, installationID string) {
	t.Helper()
	resp, err := f.device.Enroll(f.deviceCtx, &lockv1.EnrollRequest{Token: p.Token, InstallationID: installationID, Capabilities: []string{"vpn"}})
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if resp.DeviceID != p.DeviceID || resp.OwnerID != testOwner {
		t.Fatalf("enroll response = %+v", resp)
	}
}

func TestEnroll_IdempotentPerInstallation(t *testing.T) {
	f := newFixture(t)
	p := f.provision(t)
	f.enroll(t, p, "install-1")
	if ev := f.events.next(t); ev.EventType != teldomain.EventDeviceEnrolled {
		t.Errorf("event = %+v", ev)
	}
	f.enroll(t, p, "install-1")

	_, err := f.device.Enroll(f.deviceCtx, &lockv1.EnrollRequest{Token: p.Token, InstallationID: "install-2"})
	wantCode(t, err, codes.PermissionDenied)

	dev, _ := f.devices.GetByID(context.Background(), p.DeviceID)
	if !dev.Enrolled() || dev.InstallationID != "install-1" {
		t.Errorf("device = %+v", dev)
	}
	if len(f.audit.entries) != 1 || f.audit.entries[0].action != "enrolled" {
		t.Errorf("audit = %+v", f.audit.entries)
	}
}

func TestEnroll_TokenErrors(t *testing.T) {
	f := newFixture(t)
	p := f.provision(t)
	_, err := f.device.Enroll(f.deviceCtx, &lockv1.EnrollRequest{Token: p.Token})
	wantCode(t, err, codes.InvalidArgument)
	_, err = f.device.Enroll(f.deviceCtx, &lockv1.EnrollRequest{Token: "garbage", InstallationID: "i"})
	wantCode(t, err, codes.Unauthenticated)

	lock, err := f.owner.IssueLock(f.ownerCtx, &lockv1.IssueLockRequest{DeviceID: p.DeviceID, DurationMinutes: 10})
	if err != nil {
		t.Fatalf("IssueLock: %v", err)
	}
	_, err = f.device.Enroll(f.deviceCtx, &lockv1.EnrollRequest{Token: lock.Token, InstallationID: "i"})
	wantCode(t, err, codes.Unauthenticated)

	f.clk.Advance(11 * time.Minute)
	_, err = f.device.Enroll(f.deviceCtx, &lockv1.EnrollRequest{Token: p.Token, InstallationID: "i"})
	wantCode(t, err, codes.Unauthenticated)
}

func TestEnroll_DeletedDevice(t *testing.T) {
	f := newFixture(t)
	p := f.provision(t)
	if _, err := f.owner.DeleteDevice(f.ownerCtx, &lockv1.DeleteDeviceRequest{DeviceID: p.DeviceID}); err != nil {
		t.Fatalf("DeleteDevice: %v", err)
	}
	_, err := f.device.Enroll(f.deviceCtx, &lockv1.EnrollRequest{Token: p.Token, InstallationID: "i"})
	wantCode(t, err, codes.NotFound)
}

func TestGetLockStatus(t *testing.T) {
	f := newFixture(t)
	p := f.provision(t)

	_, err := f.device.GetLockStatus(f.deviceCtx, &lockv1.GetLockStatusRequest{DeviceID: p.DeviceID, InstallationID: "install-1"})
	wantCode(t, err, codes.PermissionDenied)

	f.enroll(t, p, "install-1")
	st, err := f.device.GetLockStatus(f.deviceCtx, &lockv1.GetLockStatusRequest{DeviceID: p.DeviceID, InstallationID: "install-1"})
	if err != nil {
		t.Fatalf("GetLockStatus: %v", err)
	}
	if st.Token != "" || st.LockUntil != nil || st.RuleSetVersion != 1 {
		t.Errorf("status = %+v", st)
	}

	lock, err := f.owner.IssueLock(f.ownerCtx, &lockv1.IssueLockRequest{DeviceID: p.DeviceID, DurationMinutes: 45})
	if err != nil {
		t.Fatalf("IssueLock: %v", err)
	}
	st, err = f.device.GetLockStatus(f.deviceCtx, &lockv1.GetLockStatusRequest{DeviceID: p.DeviceID, InstallationID: "install-1"})
	if err != nil {
		t.Fatalf("GetLockStatus: %v", err)
	}
	if st.Token != lock.Token || st.LockUntil == nil || !st.LockUntil.Equal(lock.LockUntil) {
		t.Errorf("status = %+v", st)
	}

	_, err = f.device.GetLockStatus(f.deviceCtx, &lockv1.GetLockStatusRequest{DeviceID: p.DeviceID, InstallationID: "install-2"})
	wantCode(t, err, codes.PermissionDenied)
	_, err = f.device.GetLockStatus(f.deviceCtx, &lockv1.GetLockStatusRequest{DeviceID: "missing", InstallationID: "install-1"})
	wantCode(t, err, codes.NotFound)
}

func TestGetRuleSet_SinceVersion(t *testing.T) {
	f := newFixture(t)
	p := f.provision(t)
	f.enroll(t, p, "install-1")

	resp, err := f.device.GetRuleSet(f.deviceCtx, &lockv1.GetRuleSetRequest{DeviceID: p.DeviceID, InstallationID: "install-1"})
	if err != nil {
		t.Fatalf("GetRuleSet: %v", err)
	}
	if !resp.Changed || resp.RuleSet.Version != 1 || len(resp.RuleSet.BlockedDomains) == 0 {
		t.Fatalf("resp = %+v", resp)
	}
	resp, err = f.device.GetRuleSet(f.deviceCtx, &lockv1.GetRuleSetRequest{DeviceID: p.DeviceID, InstallationID: "install-1", SinceVersion: 1})
	if err != nil {
		t.Fatalf("GetRuleSet: %v", err)
	}
	if resp.Changed || resp.RuleSet != nil {
		t.Errorf("resp = %+v, want unchanged", resp)
	}
}

func TestReportState(t *testing.T) {
	f := newFixture(t)
	p := f.provision(t)
	f.enroll(t, p, "install-1")
	f.events.next(t)

	until := testStart.Add(time.Hour)
	f.clk.Advance(time.Minute)
	_, err := f.device.ReportState(f.deviceCtx, &lockv1.ReportStateRequest{
		DeviceID:        p.DeviceID,
		InstallationID:  "install-1",
		State:           lockv1.StateLocked,
		LockUntil:       &until,
		RuleSetVersion:  1,
		EngagedBackends: []string{"vpn"},
		SyncedAt:        f.clk.Now(),
	})
	if err != nil {
		t.Fatalf("ReportState: %v", err)
	}
	got, err := f.owner.GetDevice(f.ownerCtx, &lockv1.GetDeviceRequest{DeviceID: p.DeviceID})
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	d := got.Device
	if d.State != lockv1.StateLocked || d.LockUntil == nil || !d.LockUntil.Equal(until) || d.RuleSetVersion != 1 {
		t.Errorf("mirror = %+v", d)
	}
	if d.LastSeenAt == nil || !d.LastSeenAt.Equal(testStart.Add(time.Minute)) {
		t.Errorf("LastSeenAt = %v", d.LastSeenAt)
	}
	if ev := f.events.next(t); ev.EventType != teldomain.EventDeviceStateReported || ev.OwnerID != testOwner {
		t.Errorf("event = %+v", ev)
	}

	_, err = f.device.ReportState(f.deviceCtx, &lockv1.ReportStateRequest{DeviceID: p.DeviceID, InstallationID: "install-1", State: "SLEEPING"})
	wantCode(t, err, codes.InvalidArgument)
}

func TestGetOwnerLockPreference(t *testing.T) {
	f := newFixture(t)
	p := f.provision(t)
	req := &lockv1.GetOwnerLockPreferenceRequest{DeviceID: p.DeviceID, InstallationID: "install-1"}

	_, err := f.device.GetOwnerLockPreference(f.deviceCtx, req)
	wantCode(t, err, codes.PermissionDenied)

	f.enroll(t, p, "install-1")
	if _, err := f.owner.SetLockPreference(f.ownerCtx, &lockv1.SetLockPreferenceRequest{Minutes: 90}); err != nil {
		t.Fatalf("SetLockPreference: %v", err)
	}
	got, err := f.device.GetOwnerLockPreference(f.deviceCtx, req)
	if err != nil {
		t.Fatalf("GetOwnerLockPreference: %v", err)
	}
	if got.Preference.Minutes != 90 || got.Preference.MaxMinutes != 7*24*60 {
		t.Errorf("preference = %+v", got.Preference)
	}

	_, err = f.device.GetOwnerLockPreference(f.deviceCtx, &lockv1.GetOwnerLockPreferenceRequest{DeviceID: p.DeviceID, InstallationID: "install-2"})
	wantCode(t, err, codes.PermissionDenied)
}
