package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	rsdomain "device-lock-control-plane/internal/ruleset/domain"
)

func openMemory(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRecord() *Record {
	now := time.Unix(1_700_000_000, 0).UTC()
	return &Record{
		DeviceID:         "dev-1",
		OwnerID:          "owner-1",
		InstallationID:   "inst-1",
		ProvisionToken:   "prov",
		LockToken:        "lock",
		LockUntil:        now.Add(time.Hour),
		LockIssuedAt:     now,
		LockID:           "cn0abc",
		RuleSet:          rsdomain.Build("dev-1", 3, rsdomain.DefaultSettings(), now),
		EngagedBackends:  []string{"accessibility", "vpn"},
		EnforcementError: "owner_policy: unavailable",
		LastSyncedAt:     now,
		UpdatedAt:        now,
	}
}

func TestSQLite_LoadEmpty(t *testing.T) {
	s := openMemory(t)
	r, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r != nil {
		t.Errorf("Load on empty store = %+v, want nil", r)
	}
}

func TestSQLite_SaveLoad(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	want := sampleRecord()
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.DeviceID != want.DeviceID || got.OwnerID != want.OwnerID || got.InstallationID != want.InstallationID {
		t.Errorf("ids = %q/%q/%q", got.DeviceID, got.OwnerID, got.InstallationID)
	}
	if !got.LockUntil.Equal(want.LockUntil) || !got.LockIssuedAt.Equal(want.LockIssuedAt) || got.LockID != want.LockID {
		t.Errorf("lock = %v/%v/%q", got.LockUntil, got.LockIssuedAt, got.LockID)
	}
	if got.RuleSet == nil || got.RuleSet.Version != 3 || len(got.RuleSet.BlockedDomains) != len(want.RuleSet.BlockedDomains) {
		t.Errorf("ruleset = %+v", got.RuleSet)
	}
	if !got.RuleSet.Policy.BlockUnknown() {
		t.Error("ruleset policy lost")
	}
	if len(got.EngagedBackends) != 2 || got.EngagedBackends[1] != "vpn" {
		t.Errorf("engaged = %v", got.EngagedBackends)
	}
	if got.Enrolled {
		t.Error("enrolled should be false")
	}

	want.Enrolled = true
	want.ProvisionToken = ""
	want.LockUntil = time.Time{}
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save (update): %v", err)
	}
	got, _ = s.Load(ctx)
	if !got.Enrolled || got.ProvisionToken != "" || !got.LockUntil.IsZero() {
		t.Errorf("after update = %+v", got)
	}
}

func TestSQLite_Clear(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	if err := s.Save(ctx, sampleRecord()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if r, _ := s.Load(ctx); r != nil {
		t.Errorf("Load after Clear = %+v", r)
	}
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")
	ctx := context.Background()
	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Save(ctx, sampleRecord()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_ = s.Close()

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	r, err := s.Load(ctx)
	if err != nil || r == nil {
		t.Fatalf("Load after reopen = %v, %v", r, err)
	}
	if r.LockToken != "lock" {
		t.Errorf("LockToken = %q", r.LockToken)
	}
}

func TestMemory_ClonesRecords(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	r := sampleRecord()
	_ = m.Save(ctx, r)
	r.EngagedBackends[0] = "mutated"
	r.RuleSet.BlockedDomains[0] = "mutated"

	got, _ := m.Load(ctx)
	if got.EngagedBackends[0] == "mutated" || got.RuleSet.BlockedDomains[0] == "mutated" {
		t.Error("Memory must not alias caller slices")
	}
	if m.Saves() != 1 {
		t.Errorf("Saves = %d", m.Saves())
	}
}
