// Package audit records owner-visible actions on devices and locks.
package audit

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"device-lock-control-plane/internal/audit/domain"
	auditrepo "device-lock-control-plane/internal/audit/repository"
	"device-lock-control-plane/internal/clock"
	"device-lock-control-plane/internal/logging"
)

// Recorder puts events on the trail. Recording never fails the caller.
type Recorder interface {
	Record(ctx context.Context, ev domain.Event)
}

// IPExtractor returns the client address of the request in ctx.
type IPExtractor func(context.Context) string

// Trail is the Recorder backed by a repository.
type Trail struct {
	repo   auditrepo.Repository
	ip     IPExtractor
	clock  clock.Clock
	logger *zap.Logger
}

// NewTrail returns a Trail writing to repo. ip, clk and logger may be nil.
func NewTrail(repo auditrepo.Repository, ip IPExtractor, clk clock.Clock, logger *zap.Logger) *Trail {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Trail{repo: repo, ip: ip, clock: clk, logger: logging.OrNop(logger)}
}

// Record stores ev. Events without an owner are dropped since the trail is kept per owner.
func (t *Trail) Record(ctx context.Context, ev domain.Event) {
	if t == nil || t.repo == nil || ev.OwnerID == "" {
		return
	}
	entry := &domain.AuditLog{
		ID:        uuid.NewString(),
		OwnerID:   ev.OwnerID,
		DeviceID:  ev.DeviceID,
		Action:    ev.Action,
		Resource:  ev.Resource,
		IP:        "unknown",
		Metadata:  ev.Metadata,
		CreatedAt: t.clock.Now().UTC(),
	}
	if t.ip != nil {
		entry.IP = t.ip(ctx)
	}
	if err := t.repo.Create(ctx, entry); err != nil {
		t.logger.Error("audit record failed",
			zap.String("owner_id", ev.OwnerID),
			zap.String("device_id", ev.DeviceID),
			zap.String("action", ev.Action),
			zap.Error(err),
		)
	}
}
