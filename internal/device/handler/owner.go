package handler

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"device-lock-control-plane/internal/api/lockv1"
	"device-lock-control-plane/internal/device/domain"
	prefdomain "device-lock-control-plane/internal/ownersettings/domain"
	"device-lock-control-plane/internal/policy/engine"
	rsdomain "device-lock-control-plane/internal/ruleset/domain"
	"device-lock-control-plane/internal/telemetry"
	teldomain "device-lock-control-plane/internal/telemetry/domain"
	"device-lock-control-plane/internal/token"
)

// OwnerServer implements lockv1.OwnerServiceServer.
type OwnerServer struct {
	lockv1.UnimplementedOwnerServiceServer
	deps Deps
}

// NewOwnerServer returns the owner-facing server.
func NewOwnerServer(deps Deps) *OwnerServer {
	return &OwnerServer{deps: deps.withDefaults()}
}

type qrPayload struct {
	Scheme string `json:"scheme"`
	Token  string `json:"token"`
}

func (s *OwnerServer) subscriptionActive(ctx context.Context, ownerID string) (bool, error) {
	sub, err := s.deps.Subscriptions.GetByOwner(ctx, ownerID)
	if err != nil {
		return false, s.deps.internalError("failed to load subscription", err, zap.String("owner_id", ownerID))
	}
	return sub.Active(), nil
}

// CreateProvisioning creates a pending device with default settings and RuleSet version 1,
// and returns a short-lived provisioning token for it.
func (s *OwnerServer) CreateProvisioning(ctx context.Context, req *lockv1.CreateProvisioningRequest) (*lockv1.CreateProvisioningResponse, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return nil, err
	}
	active, err := s.subscriptionActive(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, status.Error(codes.FailedPrecondition, "an active subscription is required to add devices")
	}

	now := s.deps.now()
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "New device"
	}
	dev := &domain.Device{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Name:      name,
		Platform:  strings.ToLower(strings.TrimSpace(req.Platform)),
		Status:    domain.StatusPending,
		Settings:  rsdomain.DefaultSettings(),
		CreatedAt: now,
	}
	if err := s.deps.Devices.Create(ctx, dev); err != nil {
		return nil, s.deps.internalError("failed to create device", err, zap.String("owner_id", ownerID))
	}
	if err := s.deps.RuleSets.Create(ctx, rsdomain.Build(dev.ID, 1, dev.Settings, now)); err != nil {
		return nil, s.deps.repoError("failed to create ruleset", err, dev.ID)
	}

	tok, qr, expiresAt, err := s.provisioningToken(dev)
	if err != nil {
		return nil, err
	}
	return &lockv1.CreateProvisioningResponse{DeviceID: dev.ID, Token: tok, QRPayload: qr, ExpiresAt: expiresAt}, nil
}

// ReissueProvisioning returns a fresh provisioning token for a device that has not
// enrolled yet, so an expired QR code does not strand it.
func (s *OwnerServer) ReissueProvisioning(ctx context.Context, req *lockv1.ReissueProvisioningRequest) (*lockv1.ReissueProvisioningResponse, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return nil, err
	}
	dev, err := s.deps.ownedDevice(ctx, ownerID, req.GetDeviceID())
	if err != nil {
		return nil, err
	}
	if dev.Status != domain.StatusPending {
		return nil, status.Error(codes.FailedPrecondition, "device is already enrolled")
	}
	active, err := s.subscriptionActive(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, status.Error(codes.FailedPrecondition, "an active subscription is required to add devices")
	}
	tok, qr, expiresAt, err := s.provisioningToken(dev)
	if err != nil {
		return nil, err
	}
	return &lockv1.ReissueProvisioningResponse{DeviceID: dev.ID, Token: tok, QRPayload: qr, ExpiresAt: expiresAt}, nil
}

func (s *OwnerServer) provisioningToken(dev *domain.Device) (tok, qr string, expiresAt time.Time, err error) {
	tok, claims, err := s.deps.Codec.Issue(token.Claims{DeviceID: dev.ID, OwnerID: dev.OwnerID, Audience: s.deps.Audience}, token.KindProvision, s.deps.ProvisionTTL)
	if err != nil {
		return "", "", time.Time{}, s.deps.internalError("failed to issue provisioning token", err, zap.String("device_id", dev.ID))
	}
	payload, _ := json.Marshal(qrPayload{Scheme: ProvisionScheme, Token: tok})
	return tok, string(payload), claims.ExpiresAt, nil
}

// ListDevices returns the caller's devices.
func (s *OwnerServer) ListDevices(ctx context.Context, _ *lockv1.ListDevicesRequest) (*lockv1.ListDevicesResponse, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.deps.Devices.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, s.deps.internalError("failed to list devices", err, zap.String("owner_id", ownerID))
	}
	out := make([]*lockv1.Device, 0, len(list))
	for _, d := range list {
		out = append(out, deviceToAPI(d))
	}
	return &lockv1.ListDevicesResponse{Devices: out}, nil
}

// GetDevice returns one device with its last reported state.
func (s *OwnerServer) GetDevice(ctx context.Context, req *lockv1.GetDeviceRequest) (*lockv1.GetDeviceResponse, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return nil, err
	}
	dev, err := s.deps.ownedDevice(ctx, ownerID, req.GetDeviceID())
	if err != nil {
		return nil, err
	}
	return &lockv1.GetDeviceResponse{Device: deviceToAPI(dev)}, nil
}

// IssueLock signs a lock token and stores it as the device's latest lock. The newest
// token always wins on the device, so a shorter lock shortens an active one.
func (s *OwnerServer) IssueLock(ctx context.Context, req *lockv1.IssueLockRequest) (*lockv1.IssueLockResponse, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return nil, err
	}
	dev, err := s.deps.ownedDevice(ctx, ownerID, req.GetDeviceID())
	if err != nil {
		return nil, err
	}
	active, err := s.subscriptionActive(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	now := s.deps.now().Truncate(time.Second)
	var lockUntil time.Time
	var minutes int
	switch {
	case req.LockUntil != nil:
		lockUntil = req.LockUntil.UTC().Truncate(time.Second)
		minutes = int(math.Ceil(lockUntil.Sub(now).Minutes()))
	case req.DurationMinutes != 0:
		minutes = req.DurationMinutes
		lockUntil = now.Add(time.Duration(minutes) * time.Minute)
	default:
		pref, err := s.deps.Preferences.Get(ctx, ownerID)
		if err != nil {
			return nil, s.deps.internalError("failed to load lock preference", err, zap.String("owner_id", ownerID))
		}
		m := 0
		if pref != nil {
			m = pref.Minutes
		}
		minutes = prefdomain.ClampMinutes(m, s.deps.maxLockMinutes())
		lockUntil = now.Add(time.Duration(minutes) * time.Minute)
	}

	decision, err := s.deps.Policy.EvaluateLock(ctx, engine.LockInput{
		SubscriptionActive: active,
		DeviceEnrolled:     dev.Enrolled(),
		DurationMinutes:    minutes,
		MaxMinutes:         s.deps.maxLockMinutes(),
	})
	if err != nil {
		return nil, s.deps.internalError("lock policy evaluation failed", err, zap.String("device_id", dev.ID))
	}
	if !decision.Allowed {
		code := codes.InvalidArgument
		if !active {
			code = codes.FailedPrecondition
		}
		return nil, status.Errorf(code, "lock denied: %s", strings.Join(decision.Reasons, "; "))
	}

	ttl := lockUntil.Sub(now) + token.LockGrace
	tok, claims, err := s.deps.Codec.Issue(token.Claims{
		DeviceID:       dev.ID,
		OwnerID:        ownerID,
		Audience:       s.deps.Audience,
		LockUntil:      lockUntil,
		IssuedAtServer: now,
	}, token.KindLock, ttl)
	if err != nil {
		return nil, s.deps.internalError("failed to issue lock token", err, zap.String("device_id", dev.ID))
	}
	iss := domain.LockIssuance{
		JTI:       claims.ID,
		DeviceID:  dev.ID,
		OwnerID:   ownerID,
		LockUntil: claims.LockUntil,
		IssuedAt:  claims.IssuedAtServer,
		Reason:    strings.TrimSpace(req.Reason),
	}
	if err := s.deps.Devices.SetLock(ctx, iss, tok); err != nil {
		return nil, s.deps.repoError("failed to store lock", err, dev.ID)
	}

	s.deps.Logger.Info("lock issued",
		zap.String("device_id", dev.ID),
		zap.Time("lock_until", claims.LockUntil),
		zap.String("jti", claims.ID),
	)
	meta, _ := json.Marshal(map[string]interface{}{"lockUntil": claims.LockUntil, "jti": claims.ID, "reason": iss.Reason})
	telemetry.Publish(ctx, s.deps.Telemetry, &teldomain.Event{
		OwnerID:   ownerID,
		DeviceID:  dev.ID,
		EventType: teldomain.EventLockIssued,
		Source:    "owner_service",
		Metadata:  meta,
	})
	return &lockv1.IssueLockResponse{Token: tok, LockUntil: claims.LockUntil}, nil
}

// UpdateSettings stores new blocking settings and publishes the next RuleSet version.
// While the device is locked only changes that block at least as much are accepted.
func (s *OwnerServer) UpdateSettings(ctx context.Context, req *lockv1.UpdateSettingsRequest) (*lockv1.UpdateSettingsResponse, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return nil, err
	}
	dev, err := s.deps.ownedDevice(ctx, ownerID, req.GetDeviceID())
	if err != nil {
		return nil, err
	}
	next, err := settingsFromAPI(req.Settings)
	if err != nil {
		return nil, err
	}
	now := s.deps.now()
	if dev.LockedAt(now) && !rsdomain.Tightens(dev.Settings, next) {
		return nil, status.Error(codes.FailedPrecondition, "device is locked: settings may only be tightened until the lock ends")
	}

	latest, err := s.deps.RuleSets.Latest(ctx, dev.ID)
	if err != nil {
		return nil, s.deps.internalError("failed to load ruleset", err, zap.String("device_id", dev.ID))
	}
	var version int64 = 1
	if latest != nil {
		version = latest.Version + 1
	}
	rs := rsdomain.Build(dev.ID, version, next, now)
	if err := s.deps.RuleSets.Create(ctx, rs); err != nil {
		return nil, s.deps.repoError("failed to store ruleset", err, dev.ID)
	}
	if err := s.deps.Devices.UpdateSettings(ctx, dev.ID, next); err != nil {
		return nil, s.deps.repoError("failed to store settings", err, dev.ID)
	}
	return &lockv1.UpdateSettingsResponse{RuleSet: ruleSetToAPI(rs)}, nil
}

// DeleteDevice removes a device unless its latest lock is still in force.
func (s *OwnerServer) DeleteDevice(ctx context.Context, req *lockv1.DeleteDeviceRequest) (*lockv1.DeleteDeviceResponse, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return nil, err
	}
	dev, err := s.deps.ownedDevice(ctx, ownerID, req.GetDeviceID())
	if err != nil {
		return nil, err
	}
	if dev.LockedAt(s.deps.now()) {
		return nil, status.Errorf(codes.FailedPrecondition, "device is locked until %s", dev.Lock.Until.Format(time.RFC3339))
	}
	if err := s.deps.Devices.Delete(ctx, dev.ID); err != nil {
		return nil, s.deps.repoError("failed to delete device", err, dev.ID)
	}
	return &lockv1.DeleteDeviceResponse{}, nil
}

// GetLockPreference returns the owner's default lock duration.
func (s *OwnerServer) GetLockPreference(ctx context.Context, _ *lockv1.GetLockPreferenceRequest) (*lockv1.GetLockPreferenceResponse, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return nil, err
	}
	pref, err := s.deps.lockPreference(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &lockv1.GetLockPreferenceResponse{Preference: pref}, nil
}

// SetLockPreference stores the owner's default lock duration, clamped to 1..max minutes.
func (s *OwnerServer) SetLockPreference(ctx context.Context, req *lockv1.SetLockPreferenceRequest) (*lockv1.SetLockPreferenceResponse, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return nil, err
	}
	if req.Minutes < 0 {
		return nil, status.Error(codes.InvalidArgument, "minutes must not be negative")
	}
	pref := s.deps.preference(req.Minutes)
	if err := s.deps.Preferences.Upsert(ctx, &prefdomain.LockPreference{OwnerID: ownerID, Minutes: pref.Minutes}); err != nil {
		return nil, s.deps.internalError("failed to store lock preference", err, zap.String("owner_id", ownerID))
	}
	return &lockv1.SetLockPreferenceResponse{Preference: pref}, nil
}
