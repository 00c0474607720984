package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"device-lock-control-plane/internal/api/lockv1"
	auditdomain "device-lock-control-plane/internal/audit/domain"
	"device-lock-control-plane/internal/device/domain"
	"device-lock-control-plane/internal/telemetry"
	teldomain "device-lock-control-plane/internal/telemetry/domain"
	"device-lock-control-plane/internal/token"
)

// DeviceServer implements lockv1.DeviceServiceServer. Agents authenticate with their
// provisioning token once; later calls are bound to the enrolled installation id.
type DeviceServer struct {
	lockv1.UnimplementedDeviceServiceServer
	deps Deps
}

// NewDeviceServer returns the device-facing server.
func NewDeviceServer(deps Deps) *DeviceServer {
	return &DeviceServer{deps: deps.withDefaults()}
}

// Enroll consumes a provisioning token. Repeating it from the same installation is
// idempotent; any other installation is refused.
func (s *DeviceServer) Enroll(ctx context.Context, req *lockv1.EnrollRequest) (*lockv1.EnrollResponse, error) {
	installationID := strings.TrimSpace(req.InstallationID)
	if installationID == "" {
		return nil, status.Error(codes.InvalidArgument, "installation_id is required")
	}
	claims, err := s.deps.Codec.Verify(req.Token, s.deps.Audience, token.KindProvision)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil, status.Error(codes.Unauthenticated, "provisioning token expired")
		}
		return nil, status.Error(codes.Unauthenticated, "invalid provisioning token")
	}
	dev, err := s.deps.Devices.GetByID(ctx, claims.DeviceID)
	if err != nil {
		return nil, s.deps.internalError("failed to load device", err, zap.String("device_id", claims.DeviceID))
	}
	if dev == nil {
		return nil, status.Error(codes.NotFound, "device not found")
	}
	if dev.OwnerID != claims.OwnerID {
		return nil, status.Error(codes.PermissionDenied, "token does not belong to this device")
	}
	if err := s.deps.Devices.MarkEnrolled(ctx, dev.ID, installationID, req.Capabilities, s.deps.now()); err != nil {
		return nil, s.deps.repoError("failed to enroll device", err, dev.ID)
	}

	if !dev.Enrolled() {
		s.deps.Logger.Info("device enrolled", zap.String("device_id", dev.ID), zap.Strings("capabilities", req.Capabilities))
		if s.deps.Audit != nil {
			s.deps.Audit.Record(ctx, auditdomain.Event{
				OwnerID:  dev.OwnerID,
				DeviceID: dev.ID,
				Action:   auditdomain.ActionEnrolled,
				Resource: auditdomain.ResourceDevice,
				Metadata: strings.Join(req.Capabilities, ","),
			})
		}
		telemetry.Publish(ctx, s.deps.Telemetry, &teldomain.Event{
			OwnerID:   dev.OwnerID,
			DeviceID:  dev.ID,
			EventType: teldomain.EventDeviceEnrolled,
			Source:    "device_service",
		})
	}
	return &lockv1.EnrollResponse{DeviceID: dev.ID, OwnerID: dev.OwnerID}, nil
}

// enrolledDevice loads the device and checks the caller is its enrolled installation.
func (s *DeviceServer) enrolledDevice(ctx context.Context, deviceID, installationID string) (*domain.Device, error) {
	if deviceID == "" || installationID == "" {
		return nil, status.Error(codes.InvalidArgument, "device_id and installation_id are required")
	}
	dev, err := s.deps.Devices.GetByID(ctx, deviceID)
	if err != nil {
		return nil, s.deps.internalError("failed to load device", err, zap.String("device_id", deviceID))
	}
	if dev == nil {
		return nil, status.Error(codes.NotFound, "device not found")
	}
	if !dev.Enrolled() || dev.InstallationID != installationID {
		return nil, status.Error(codes.PermissionDenied, "installation is not enrolled for this device")
	}
	return dev, nil
}

// GetLockStatus returns the latest issued lock token, if any, and the current RuleSet version.
func (s *DeviceServer) GetLockStatus(ctx context.Context, req *lockv1.GetLockStatusRequest) (*lockv1.GetLockStatusResponse, error) {
	dev, err := s.enrolledDevice(ctx, req.GetDeviceID(), req.InstallationID)
	if err != nil {
		return nil, err
	}
	resp := &lockv1.GetLockStatusResponse{}
	if dev.Lock != nil {
		until := dev.Lock.Until
		resp.LockUntil = &until
		resp.Token = dev.Lock.Token
	}
	rs, err := s.deps.RuleSets.Latest(ctx, dev.ID)
	if err != nil {
		return nil, s.deps.internalError("failed to load ruleset", err, zap.String("device_id", dev.ID))
	}
	if rs != nil {
		resp.RuleSetVersion = rs.Version
	}
	return resp, nil
}

// GetRuleSet returns the latest RuleSet when it is newer than SinceVersion.
func (s *DeviceServer) GetRuleSet(ctx context.Context, req *lockv1.GetRuleSetRequest) (*lockv1.GetRuleSetResponse, error) {
	dev, err := s.enrolledDevice(ctx, req.GetDeviceID(), req.InstallationID)
	if err != nil {
		return nil, err
	}
	rs, err := s.deps.RuleSets.Latest(ctx, dev.ID)
	if err != nil {
		return nil, s.deps.internalError("failed to load ruleset", err, zap.String("device_id", dev.ID))
	}
	if rs == nil || rs.Version <= req.SinceVersion {
		return &lockv1.GetRuleSetResponse{Changed: false}, nil
	}
	return &lockv1.GetRuleSetResponse{Changed: true, RuleSet: ruleSetToAPI(rs)}, nil
}

// GetOwnerLockPreference returns the owning account's default lock duration to the
// enrolled installation.
func (s *DeviceServer) GetOwnerLockPreference(ctx context.Context, req *lockv1.GetOwnerLockPreferenceRequest) (*lockv1.GetOwnerLockPreferenceResponse, error) {
	dev, err := s.enrolledDevice(ctx, req.GetDeviceID(), req.InstallationID)
	if err != nil {
		return nil, err
	}
	pref, err := s.deps.lockPreference(ctx, dev.OwnerID)
	if err != nil {
		return nil, err
	}
	return &lockv1.GetOwnerLockPreferenceResponse{Preference: pref}, nil
}

// ReportState stores the agent's view of its state and emits it as a telemetry event.
func (s *DeviceServer) ReportState(ctx context.Context, req *lockv1.ReportStateRequest) (*lockv1.ReportStateResponse, error) {
	switch req.State {
	case lockv1.StateUnprovisioned, lockv1.StateUnlocked, lockv1.StateLocked:
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown state %q", req.State)
	}
	dev, err := s.enrolledDevice(ctx, req.GetDeviceID(), req.InstallationID)
	if err != nil {
		return nil, err
	}
	mirror := domain.Mirror{
		State:           req.State,
		LockUntil:       req.LockUntil,
		RuleSetVersion:  req.RuleSetVersion,
		EngagedBackends: req.EngagedBackends,
		EnforcementErr:  req.EnforcementErr,
	}
	if err := s.deps.Devices.UpdateMirror(ctx, dev.ID, mirror, s.deps.now()); err != nil {
		return nil, s.deps.repoError("failed to store device state", err, dev.ID)
	}
	if req.EnforcementErr != "" {
		s.deps.Logger.Warn("device reported enforcement error",
			zap.String("device_id", dev.ID),
			zap.String("state", req.State),
			zap.String("error", req.EnforcementErr),
		)
	}
	meta, _ := json.Marshal(teldomain.DeviceState{
		State:           req.State,
		LockUntil:       req.LockUntil,
		RuleSetVersion:  req.RuleSetVersion,
		EngagedBackends: req.EngagedBackends,
		EnforcementErr:  req.EnforcementErr,
	})
	telemetry.Publish(ctx, s.deps.Telemetry, &teldomain.Event{
		OwnerID:   dev.OwnerID,
		DeviceID:  dev.ID,
		EventType: teldomain.EventDeviceStateReported,
		Source:    "device",
		Metadata:  meta,
		CreatedAt: req.SyncedAt,
	})
	return &lockv1.ReportStateResponse{}, nil
}
