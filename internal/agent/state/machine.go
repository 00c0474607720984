// Package state implements the device-side lock state machine:
// Unprovisioned → Unlocked ⇄ Locked, with time-driven unlock and last-issued-wins lock tokens.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"device-lock-control-plane/internal/agent/store"
	"device-lock-control-plane/internal/clock"
	"device-lock-control-plane/internal/logging"
	rsdomain "device-lock-control-plane/internal/ruleset/domain"
	"device-lock-control-plane/internal/token"
)

var (
	ErrNotProvisioned     = errors.New("state: device not provisioned")
	ErrAlreadyProvisioned = errors.New("state: device already provisioned")
	// ErrLocked is returned by Unenroll while a lock is in force.
	ErrLocked = errors.New("state: device is locked")
	// ErrStaleToken is returned for a lock token issued before the active one.
	ErrStaleToken = errors.New("state: lock token older than active lock")
	// ErrDeviceMismatch is returned for tokens or rule sets addressed to another device or owner.
	ErrDeviceMismatch = errors.New("state: token is for another device")
)

// Machine owns the device LockState. Mutations are serialized; readers use Snapshot,
// which never blocks.
type Machine struct {
	mu       sync.Mutex
	codec    *token.Codec
	audience string
	store    store.Store
	clock    clock.Clock
	logger   *zap.Logger

	// record mirrors the persisted state, including tokens that never leave the machine.
	record *store.Record
	snap   atomic.Pointer[Snapshot]
}

// New returns a Machine in the Unprovisioned state. Call Restore to resume persisted state.
func New(codec *token.Codec, audience string, st store.Store, clk clock.Clock, logger *zap.Logger) *Machine {
	if clk == nil {
		clk = clock.Real{}
	}
	m := &Machine{
		codec:    codec,
		audience: audience,
		store:    st,
		clock:    clk,
		logger:   logging.OrNop(logger),
	}
	m.snap.Store(&Snapshot{State: Unprovisioned})
	return m
}

// Snapshot returns the current immutable state.
func (m *Machine) Snapshot() *Snapshot {
	return m.snap.Load()
}

// Restore loads the persisted record. The stored lock token is re-verified; when
// verification fails for any reason other than expiry the stored lockUntil still applies.
func (m *Machine) Restore(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("state: restore: %w", err)
	}
	if rec == nil || rec.DeviceID == "" {
		m.record = nil
		m.snap.Store(&Snapshot{State: Unprovisioned})
		return nil
	}
	if rec.LockToken != "" {
		claims, err := m.codec.Verify(rec.LockToken, m.audience, token.KindLock)
		switch {
		case err == nil:
			if claims.LockUntil.After(rec.LockUntil) {
				rec.LockUntil = claims.LockUntil
			}
		case errors.Is(err, token.ErrExpired):
		default:
			m.logger.Warn("stored lock token failed verification; keeping stored lock",
				zap.String("device_id", rec.DeviceID),
				zap.Time("lock_until", rec.LockUntil),
				zap.Error(err),
			)
		}
	}
	m.record = rec
	m.publish()
	m.logger.Info("device state restored",
		zap.String("device_id", rec.DeviceID),
		zap.String("state", string(m.snap.Load().State)),
		zap.Int64("ruleset_version", m.snap.Load().RuleSetVersion()),
	)
	return nil
}

// Provision verifies a provisioning token and binds the device to its owner.
// A fresh installation id is generated for enrollment.
func (m *Machine) Provision(ctx context.Context, raw string) (token.Claims, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.record != nil {
		return token.Claims{}, ErrAlreadyProvisioned
	}
	claims, err := m.codec.Verify(raw, m.audience, token.KindProvision)
	if err != nil {
		return token.Claims{}, err
	}
	if claims.OwnerID == "" {
		return token.Claims{}, fmt.Errorf("%w: provisioning token without owner", token.ErrMalformed)
	}
	m.record = &store.Record{
		DeviceID:       claims.DeviceID,
		OwnerID:        claims.OwnerID,
		InstallationID: uuid.NewString(),
		ProvisionToken: raw,
	}
	return claims, m.commit(ctx)
}

// ProvisionToken returns the token to present on enrollment, empty once enrolled.
func (m *Machine) ProvisionToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil || m.record.Enrolled {
		return ""
	}
	return m.record.ProvisionToken
}

// MarkEnrolled records the server's acknowledgement and drops the provisioning token.
func (m *Machine) MarkEnrolled(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return ErrNotProvisioned
	}
	if m.record.DeviceID != deviceID {
		return ErrDeviceMismatch
	}
	if m.record.Enrolled {
		return nil
	}
	m.record.Enrolled = true
	m.record.ProvisionToken = ""
	return m.commit(ctx)
}

// ApplyLock verifies a lock token and makes it the active lock if it was issued after
// the current one. A newer token always replaces lockUntil, even when it is earlier.
// It reports whether the active lock changed; re-applying the active token is a no-op.
func (m *Machine) ApplyLock(ctx context.Context, raw string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.record == nil {
		return false, ErrNotProvisioned
	}
	claims, err := m.codec.Verify(raw, m.audience, token.KindLock)
	if err != nil {
		return false, err
	}
	if claims.DeviceID != m.record.DeviceID || (claims.OwnerID != "" && claims.OwnerID != m.record.OwnerID) {
		return false, ErrDeviceMismatch
	}
	if m.record.LockID != "" {
		if claims.ID == m.record.LockID {
			return false, nil
		}
		active := token.Claims{ID: m.record.LockID, IssuedAtServer: m.record.LockIssuedAt}
		if !claims.Newer(active) {
			return false, ErrStaleToken
		}
	}

	prev := m.record.LockUntil
	m.record.LockToken = raw
	m.record.LockUntil = claims.LockUntil
	m.record.LockIssuedAt = claims.IssuedAtServer
	m.record.LockID = claims.ID
	if err := m.commit(ctx); err != nil {
		return true, err
	}
	m.logger.Info("lock token applied",
		zap.String("device_id", claims.DeviceID),
		zap.String("jti", claims.ID),
		zap.Time("lock_until", claims.LockUntil),
		zap.Time("previous_lock_until", prev),
	)
	return true, nil
}

// Tick commits the time-driven unlock. It reports whether the state changed.
func (m *Machine) Tick(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.snap.Load()
	if cur.State != Locked || cur.LockedAt(m.clock.Now()) {
		return false, nil
	}
	m.logger.Info("lock expired", zap.String("device_id", cur.DeviceID), zap.Time("lock_until", cur.LockUntil))
	return true, m.commit(ctx)
}

// Unenroll forgets the device. It is refused with ErrLocked while a lock is in force.
func (m *Machine) Unenroll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return ErrNotProvisioned
	}
	if now := m.clock.Now(); now.Before(m.record.LockUntil) {
		return fmt.Errorf("%w until %s", ErrLocked, m.record.LockUntil.Format(time.RFC3339))
	}
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("state: unenroll: %w", err)
	}
	m.logger.Info("device unenrolled", zap.String("device_id", m.record.DeviceID))
	m.record = nil
	m.snap.Store(&Snapshot{State: Unprovisioned})
	return nil
}

// ApplyRuleSet activates rs if its version is newer than the active one. Versions at or
// below the active version are ignored. It reports whether the active RuleSet changed.
func (m *Machine) ApplyRuleSet(ctx context.Context, rs *rsdomain.RuleSet) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return false, ErrNotProvisioned
	}
	if rs == nil {
		return false, errors.New("state: nil ruleset")
	}
	if rs.DeviceID != "" && rs.DeviceID != m.record.DeviceID {
		return false, ErrDeviceMismatch
	}
	if cur := m.record.RuleSet; cur != nil && rs.Version <= cur.Version {
		return false, nil
	}
	m.record.RuleSet = store.CloneRuleSet(rs)
	return true, m.commit(ctx)
}

// RecordOutcome stores which backends are engaged and the last enforcement error.
func (m *Machine) RecordOutcome(ctx context.Context, engaged []string, enforcementErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return ErrNotProvisioned
	}
	if equalStrings(m.record.EngagedBackends, engaged) && m.record.EnforcementError == enforcementErr {
		return nil
	}
	m.record.EngagedBackends = append([]string(nil), engaged...)
	m.record.EnforcementError = enforcementErr
	return m.commit(ctx)
}

// RecordSync stores the time of the last successful server contact.
func (m *Machine) RecordSync(ctx context.Context, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return ErrNotProvisioned
	}
	m.record.LastSyncedAt = at.UTC()
	return m.commit(ctx)
}

// commit publishes the record as a new snapshot and persists it. The snapshot is
// published even when persisting fails, so enforcement follows the newest state.
func (m *Machine) commit(ctx context.Context) error {
	m.record.UpdatedAt = m.clock.Now()
	m.publish()
	if err := m.store.Save(ctx, m.record); err != nil {
		return fmt.Errorf("state: persist: %w", err)
	}
	return nil
}

func (m *Machine) publish() {
	r := m.record
	s := &Snapshot{
		DeviceID:         r.DeviceID,
		OwnerID:          r.OwnerID,
		InstallationID:   r.InstallationID,
		Enrolled:         r.Enrolled,
		LockUntil:        r.LockUntil,
		LockIssuedAt:     r.LockIssuedAt,
		LockID:           r.LockID,
		RuleSet:          store.CloneRuleSet(r.RuleSet),
		EngagedBackends:  append([]string(nil), r.EngagedBackends...),
		EnforcementError: r.EnforcementError,
		LastSyncedAt:     r.LastSyncedAt,
	}
	s.State = s.Effective(m.clock.Now())
	m.snap.Store(s)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
