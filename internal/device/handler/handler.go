// Package handler implements the gRPC OwnerService and DeviceService over the device,
// RuleSet, subscription and owner-settings repositories.
package handler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"device-lock-control-plane/internal/api/lockv1"
	"device-lock-control-plane/internal/audit"
	"device-lock-control-plane/internal/clock"
	"device-lock-control-plane/internal/device/domain"
	devicerepo "device-lock-control-plane/internal/device/repository"
	"device-lock-control-plane/internal/logging"
	prefdomain "device-lock-control-plane/internal/ownersettings/domain"
	prefrepo "device-lock-control-plane/internal/ownersettings/repository"
	"device-lock-control-plane/internal/policy/engine"
	rsdomain "device-lock-control-plane/internal/ruleset/domain"
	rsrepo "device-lock-control-plane/internal/ruleset/repository"
	"device-lock-control-plane/internal/server/interceptors"
	subrepo "device-lock-control-plane/internal/subscription/repository"
	"device-lock-control-plane/internal/telemetry"
	"device-lock-control-plane/internal/token"
)

// ProvisionScheme is the scheme of the QR payload handed to owners at provisioning time.
const ProvisionScheme = "altrii://provision"

// Deps are the collaborators shared by OwnerServer and DeviceServer.
type Deps struct {
	Devices       devicerepo.Repository
	RuleSets      rsrepo.Repository
	Subscriptions subrepo.Repository
	Preferences   prefrepo.Repository
	Codec         *token.Codec
	Policy        engine.Evaluator
	Audit         audit.Recorder
	Telemetry     telemetry.EventEmitter
	Logger        *zap.Logger
	Clock         clock.Clock

	// Audience is the aud claim minted into device tokens.
	Audience     string
	ProvisionTTL time.Duration
	MaxLock      time.Duration
}

func (d Deps) withDefaults() Deps {
	d.Logger = logging.OrNop(d.Logger)
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	return d
}

func (d Deps) now() time.Time {
	return d.Clock.Now().UTC()
}

func (d Deps) maxLockMinutes() int {
	return int(d.MaxLock / time.Minute)
}

func (d Deps) preference(minutes int) lockv1.LockPreference {
	max := d.maxLockMinutes()
	return lockv1.LockPreference{Minutes: prefdomain.ClampMinutes(minutes, max), MaxMinutes: max}
}

// lockPreference loads the owner's default lock duration; owners who never set one get the default.
func (d Deps) lockPreference(ctx context.Context, ownerID string) (lockv1.LockPreference, error) {
	pref, err := d.Preferences.Get(ctx, ownerID)
	if err != nil {
		return lockv1.LockPreference{}, d.internalError("failed to load lock preference", err, zap.String("owner_id", ownerID))
	}
	minutes := 0
	if pref != nil {
		minutes = pref.Minutes
	}
	return d.preference(minutes), nil
}

// internalError logs err and returns a generic Internal status.
func (d Deps) internalError(msg string, err error, fields ...zap.Field) error {
	d.Logger.Error(msg, append(fields, zap.Error(err))...)
	return status.Error(codes.Internal, msg)
}

func ownerFrom(ctx context.Context) (string, error) {
	ownerID, ok := interceptors.GetOwnerID(ctx)
	if !ok || ownerID == "" {
		return "", status.Error(codes.Unauthenticated, "owner identity required")
	}
	return ownerID, nil
}

// ownedDevice loads a device the caller owns. Devices of other owners are reported as missing.
func (d Deps) ownedDevice(ctx context.Context, ownerID, deviceID string) (*domain.Device, error) {
	if deviceID == "" {
		return nil, status.Error(codes.InvalidArgument, "device_id is required")
	}
	dev, err := d.Devices.GetByID(ctx, deviceID)
	if err != nil {
		return nil, d.internalError("failed to load device", err, zap.String("device_id", deviceID))
	}
	if dev == nil || dev.OwnerID != ownerID {
		return nil, status.Error(codes.NotFound, "device not found")
	}
	return dev, nil
}

// repoError maps repository sentinels to status codes.
func (d Deps) repoError(msg string, err error, deviceID string) error {
	switch {
	case errors.Is(err, devicerepo.ErrNotFound):
		return status.Error(codes.NotFound, "device not found")
	case errors.Is(err, devicerepo.ErrInstallationMismatch):
		return status.Error(codes.PermissionDenied, "device is enrolled by another installation")
	case errors.Is(err, rsrepo.ErrVersionExists):
		return status.Error(codes.Aborted, "concurrent settings update, retry")
	}
	return d.internalError(msg, err, zap.String("device_id", deviceID))
}

func deviceToAPI(d *domain.Device) *lockv1.Device {
	out := &lockv1.Device{
		ID:              d.ID,
		OwnerID:         d.OwnerID,
		Name:            d.Name,
		Platform:        d.Platform,
		Status:          d.Status,
		Capabilities:    d.Capabilities,
		Settings:        settingsToAPI(d.Settings),
		State:           d.Mirror.State,
		RuleSetVersion:  d.Mirror.RuleSetVersion,
		EngagedBackends: d.Mirror.EngagedBackends,
		LastSeenAt:      d.LastSeenAt,
		CreatedAt:       d.CreatedAt,
	}
	// The server's issued lock is authoritative for lockUntil until the device reports otherwise.
	if d.Lock != nil {
		until := d.Lock.Until
		out.LockUntil = &until
	}
	if d.Mirror.LockUntil != nil && (out.LockUntil == nil || d.Mirror.LockUntil.After(*out.LockUntil)) {
		out.LockUntil = d.Mirror.LockUntil
	}
	return out
}

func settingsToAPI(s rsdomain.Settings) lockv1.DeviceSettings {
	return lockv1.DeviceSettings{Categories: s.Categories, CustomDomains: s.CustomDomains, BlockVPN: s.BlockVPN}
}

// settingsFromAPI validates and normalizes owner-supplied settings.
func settingsFromAPI(in lockv1.DeviceSettings) (rsdomain.Settings, error) {
	out := rsdomain.Settings{Categories: make(map[string]bool, len(in.Categories)), BlockVPN: in.BlockVPN}
	for name, on := range in.Categories {
		if !rsdomain.IsCategory(name) {
			return rsdomain.Settings{}, status.Errorf(codes.InvalidArgument, "unknown category %q", name)
		}
		if name == rsdomain.CategoryVPN {
			out.BlockVPN = out.BlockVPN || on
			continue
		}
		out.Categories[name] = on
	}
	seen := make(map[string]bool, len(in.CustomDomains))
	for _, raw := range in.CustomDomains {
		d, ok := rsdomain.NormalizeDomain(raw)
		if !ok {
			return rsdomain.Settings{}, status.Errorf(codes.InvalidArgument, "invalid domain %q", raw)
		}
		if !seen[d] {
			seen[d] = true
			out.CustomDomains = append(out.CustomDomains, d)
		}
	}
	return out, nil
}

func ruleSetToAPI(rs *rsdomain.RuleSet) *lockv1.RuleSet {
	if rs == nil {
		return nil
	}
	return &lockv1.RuleSet{
		DeviceID:       rs.DeviceID,
		Version:        rs.Version,
		Categories:     rs.Categories,
		BlockedDomains: rs.BlockedDomains,
		Policy:         lockv1.RuleSetPolicy{DefaultUnknownSNI: rs.Policy.DefaultUnknownSNI},
		GeneratedAt:    rs.GeneratedAt,
	}
}
