package handler

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"device-lock-control-plane/internal/api/lockv1"
	"device-lock-control-plane/internal/audit/domain"
	auditrepo "device-lock-control-plane/internal/audit/repository"
	"device-lock-control-plane/internal/logging"
	"device-lock-control-plane/internal/server/interceptors"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Server implements lockv1.AuditServiceServer: an owner's view of their own audit trail.
type Server struct {
	lockv1.UnimplementedAuditServiceServer
	repo   auditrepo.Repository
	logger *zap.Logger
}

func NewServer(repo auditrepo.Repository, logger *zap.Logger) *Server {
	return &Server{repo: repo, logger: logging.OrNop(logger)}
}

// ListAuditLogs returns a page of the caller's trail, newest first, optionally narrowed to one device.
func (s *Server) ListAuditLogs(ctx context.Context, req *lockv1.ListAuditLogsRequest) (*lockv1.ListAuditLogsResponse, error) {
	ownerID, ok := interceptors.GetOwnerID(ctx)
	if !ok || ownerID == "" {
		return nil, status.Error(codes.Unauthenticated, "owner identity required")
	}
	if req.Offset < 0 {
		return nil, status.Error(codes.InvalidArgument, "offset must not be negative")
	}
	limit := req.Limit
	switch {
	case limit <= 0:
		limit = defaultPageSize
	case limit > maxPageSize:
		limit = maxPageSize
	}
	logs, err := s.repo.List(ctx, domain.Query{OwnerID: ownerID, DeviceID: req.DeviceID, Limit: limit, Offset: req.Offset})
	if err != nil {
		s.logger.Error("list audit logs", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to list audit logs")
	}
	out := make([]*lockv1.AuditLog, 0, len(logs))
	for _, a := range logs {
		out = append(out, &lockv1.AuditLog{
			ID:        a.ID,
			DeviceID:  a.DeviceID,
			Action:    a.Action,
			Resource:  a.Resource,
			IP:        a.IP,
			Metadata:  a.Metadata,
			CreatedAt: a.CreatedAt,
		})
	}
	return &lockv1.ListAuditLogsResponse{Logs: out}, nil
}
