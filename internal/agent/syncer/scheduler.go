// Package syncer keeps the device's lock state and RuleSet in step with the control
// plane. It is the only writer of the state machine besides the provisioning CLI.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"device-lock-control-plane/internal/agent/enforce"
	"device-lock-control-plane/internal/agent/remote"
	"device-lock-control-plane/internal/agent/state"
	"device-lock-control-plane/internal/clock"
	"device-lock-control-plane/internal/logging"
	rsdomain "device-lock-control-plane/internal/ruleset/domain"
	"device-lock-control-plane/internal/token"
)

// DefaultInterval is used when Config.Interval is not set.
const DefaultInterval = 5 * time.Minute

// Remote is the DeviceService as seen by the scheduler.
type Remote interface {
	Enroll(ctx context.Context, provisionToken, installationID string, capabilities []string) (string, error)
	LockStatus(ctx context.Context, deviceID, installationID string) (remote.LockStatus, error)
	RuleSet(ctx context.Context, deviceID, installationID string, since int64) (*rsdomain.RuleSet, error)
	ReportState(ctx context.Context, r remote.Report) error
}

// Enforcer applies a state snapshot to the enforcement backends.
type Enforcer interface {
	Apply(ctx context.Context, snap *state.Snapshot, now time.Time) (enforce.Outcome, error)
}

type Config struct {
	Interval time.Duration
	// RevokeAfterRejections is how many consecutive ServerRejected passes unprovision
	// the agent. Values below 1 mean 1.
	RevokeAfterRejections int
	// Capabilities are announced on enrollment.
	Capabilities []string
	Clock        clock.Clock
	Logger       *zap.Logger
	Registerer   prometheus.Registerer
}

// Scheduler runs sync passes on an interval, on Trigger, and at lock expiry.
type Scheduler struct {
	machine  *state.Machine
	remote   Remote
	enforcer Enforcer
	cfg      Config
	clock    clock.Clock
	logger   *zap.Logger
	metrics  *metrics
	trigger  chan struct{}

	// mu serializes passes.
	mu         sync.Mutex
	rejections int

	// idle is called each time the loop is about to wait. Tests use it to step the clock.
	idle func()
}

func New(m *state.Machine, r Remote, e Enforcer, cfg Config) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.RevokeAfterRejections < 1 {
		cfg.RevokeAfterRejections = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	met, err := newMetrics(cfg.Registerer)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		machine:  m,
		remote:   r,
		enforcer: e,
		cfg:      cfg,
		clock:    cfg.Clock,
		logger:   logging.OrNop(cfg.Logger),
		metrics:  met,
		trigger:  make(chan struct{}, 1),
	}, nil
}

// Trigger requests a pass as soon as the loop is idle. It never blocks.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run syncs immediately and then until ctx is cancelled. A pass that is in flight when
// ctx ends is left to finish in the background.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.runPass(ctx, s.syncPass) {
		return nil
	}
	next := s.clock.Now().Add(s.cfg.Interval)
	for {
		var unlock <-chan time.Time
		if snap := s.machine.Snapshot(); snap.State == state.Locked {
			unlock = s.clock.After(snap.LockUntil.Sub(s.clock.Now()))
		}
		interval := s.clock.After(next.Sub(s.clock.Now()))
		if s.idle != nil {
			s.idle()
		}

		pass, full := s.syncPass, true
		select {
		case <-ctx.Done():
			return nil
		case <-interval:
		case <-s.trigger:
		case <-unlock:
			pass, full = s.enforcePass, false
		}
		if !s.runPass(ctx, pass) {
			return nil
		}
		if full {
			next = s.clock.Now().Add(s.cfg.Interval)
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context, pass func(context.Context)) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		pass(context.WithoutCancel(ctx))
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Scheduler) syncPass(ctx context.Context) {
	_ = s.SyncOnce(ctx)
}

func (s *Scheduler) enforcePass(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enforce(ctx)
}

// SyncOnce runs one full pass: pull lock and RuleSet from the server, enforce the
// resulting state, and report it back. Enforcement runs even when the server is
// unreachable. The state is reported only when the pull succeeded. The returned error
// is a *SyncError or nil.
func (s *Scheduler) SyncOnce(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.machine.Snapshot().Provisioned() {
		// The provisioning command may have written the store since start.
		if err := s.machine.Restore(ctx); err != nil {
			s.logger.Warn("reload device state failed", zap.Error(err))
		}
	}

	err := s.pull(ctx)
	s.enforce(ctx)
	if err == nil {
		err = s.report(ctx)
	}
	s.observe(ctx, err)
	return err
}

func (s *Scheduler) pull(ctx context.Context) error {
	snap := s.machine.Snapshot()
	if !snap.Provisioned() {
		return nil
	}
	deviceID, installationID := snap.DeviceID, snap.InstallationID

	if !snap.Enrolled {
		if err := s.enroll(ctx, snap); err != nil {
			return err
		}
		if !s.current(deviceID) || !s.machine.Snapshot().Enrolled {
			return nil
		}
	}

	lock, err := s.remote.LockStatus(ctx, deviceID, installationID)
	if err != nil {
		return classify("lock status", err)
	}
	if !s.current(deviceID) {
		return nil
	}
	if lock.Token != "" {
		s.applyLock(ctx, deviceID, lock.Token)
	}

	// The lock above stays applied even if the RuleSet cannot be fetched.
	rs, err := s.remote.RuleSet(ctx, deviceID, installationID, s.machine.Snapshot().RuleSetVersion())
	if err != nil {
		return classify("ruleset", err)
	}
	if rs != nil && s.current(deviceID) {
		changed, err := s.machine.ApplyRuleSet(ctx, rs)
		switch {
		case err != nil:
			s.logger.Warn("ruleset not applied", zap.String("device_id", deviceID), zap.Int64("version", rs.Version), zap.Error(err))
		case changed:
			s.logger.Info("ruleset applied", zap.String("device_id", deviceID), zap.Int64("version", rs.Version))
		}
	}
	return nil
}

// Enroll presents the provisioning token without running a full pass. It is a no-op
// when the device is unprovisioned or already enrolled.
func (s *Scheduler) Enroll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.machine.Snapshot()
	if !snap.Provisioned() || snap.Enrolled {
		return nil
	}
	return s.enroll(ctx, snap)
}

func (s *Scheduler) enroll(ctx context.Context, snap *state.Snapshot) error {
	id, err := s.remote.Enroll(ctx, s.machine.ProvisionToken(), snap.InstallationID, s.cfg.Capabilities)
	if err != nil {
		return classify("enroll", err)
	}
	if !s.current(snap.DeviceID) {
		return nil
	}
	if err := s.machine.MarkEnrolled(ctx, id); err != nil {
		s.logger.Error("enrollment acknowledged for another device",
			zap.String("device_id", snap.DeviceID),
			zap.String("server_device_id", id),
			zap.Error(err),
		)
		return nil
	}
	s.logger.Info("device enrolled", zap.String("device_id", snap.DeviceID))
	return nil
}

func (s *Scheduler) applyLock(ctx context.Context, deviceID, raw string) {
	_, err := s.machine.ApplyLock(ctx, raw)
	switch {
	case err == nil:
	case errors.Is(err, state.ErrStaleToken):
		s.logger.Debug("server returned an older lock token", zap.String("device_id", deviceID))
	case token.IsTokenError(err):
		s.logger.Warn("lock token rejected", zap.String("device_id", deviceID), zap.Error(err))
	default:
		s.logger.Error("apply lock failed", zap.String("device_id", deviceID), zap.Error(err))
	}
}

// enforce commits a due unlock and brings the backends in line with the snapshot.
func (s *Scheduler) enforce(ctx context.Context) {
	if _, err := s.machine.Tick(ctx); err != nil {
		s.logger.Warn("persist unlock failed", zap.Error(err))
	}
	snap := s.machine.Snapshot()
	out, err := s.enforcer.Apply(ctx, snap, s.clock.Now())
	if err != nil {
		s.logger.Error("enforcement incomplete",
			zap.String("device_id", snap.DeviceID),
			zap.String("state", string(snap.State)),
			zap.Error(err),
		)
	}
	if !snap.Provisioned() || !out.Changed {
		return
	}
	errText := out.ErrorText()
	if errText == "" && err != nil {
		errText = err.Error()
	}
	if rerr := s.machine.RecordOutcome(ctx, out.EngagedNames(), errText); rerr != nil && !errors.Is(rerr, state.ErrNotProvisioned) {
		s.logger.Warn("record enforcement outcome failed", zap.Error(rerr))
	}
}

func (s *Scheduler) report(ctx context.Context) error {
	snap := s.machine.Snapshot()
	if !snap.Provisioned() || !snap.Enrolled {
		return nil
	}
	now := s.clock.Now()
	err := s.remote.ReportState(ctx, remote.Report{
		DeviceID:         snap.DeviceID,
		InstallationID:   snap.InstallationID,
		State:            string(snap.State),
		LockUntil:        snap.LockUntil,
		RuleSetVersion:   snap.RuleSetVersion(),
		EngagedBackends:  snap.EngagedBackends,
		EnforcementError: snap.EnforcementError,
		SyncedAt:         now,
	})
	if err != nil {
		return classify("report state", err)
	}
	if err := s.machine.RecordSync(ctx, now); err != nil && !errors.Is(err, state.ErrNotProvisioned) {
		s.logger.Warn("record sync time failed", zap.Error(err))
	}
	return nil
}

// observe updates metrics and the rejection count, unprovisioning the agent once the
// server has rejected it often enough and no lock is in force.
func (s *Scheduler) observe(ctx context.Context, err error) {
	var se *SyncError
	switch {
	case err == nil:
		s.rejections = 0
		s.metrics.passes.WithLabelValues("ok").Inc()
		s.metrics.lastSuccess.Set(float64(s.clock.Now().Unix()))
	case errors.As(err, &se) && se.Kind == ServerRejected:
		s.rejections++
		s.metrics.passes.WithLabelValues(string(ServerRejected)).Inc()
		s.logger.Warn("server rejected device", zap.Int("consecutive", s.rejections), zap.Error(err))
	default:
		s.metrics.passes.WithLabelValues(string(NetworkUnavailable)).Inc()
		s.logger.Info("server unreachable; keeping last applied state", zap.Error(err))
	}
	s.metrics.rejections.Set(float64(s.rejections))

	if s.rejections < s.cfg.RevokeAfterRejections {
		return
	}
	snap := s.machine.Snapshot()
	if snap.LockedAt(s.clock.Now()) {
		s.logger.Warn("device revoked by server; unenrolling after lock expires",
			zap.String("device_id", snap.DeviceID),
			zap.Time("lock_until", snap.LockUntil),
		)
		return
	}
	if err := s.machine.Unenroll(ctx); err != nil {
		s.logger.Error("unenroll after revocation failed", zap.Error(err))
		return
	}
	s.rejections = 0
	s.metrics.rejections.Set(0)
	s.enforce(ctx)
	s.logger.Warn("device unprovisioned after repeated server rejections", zap.String("device_id", snap.DeviceID))
}

func (s *Scheduler) current(deviceID string) bool {
	snap := s.machine.Snapshot()
	if snap.Provisioned() && snap.DeviceID == deviceID {
		return true
	}
	s.logger.Info("discarding sync result for unprovisioned device", zap.String("device_id", deviceID))
	return false
}
