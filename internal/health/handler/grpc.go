package handler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"device-lock-control-plane/internal/api/lockv1"
	"device-lock-control-plane/internal/logging"
)

// checkTimeout bounds each dependency probe.
const checkTimeout = 2 * time.Second

// Pinger checks database connectivity (*sql.DB satisfies it).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks that the lock-issuance policy can still be evaluated.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server implements lockv1.HealthServiceServer for readiness probes.
type Server struct {
	lockv1.UnimplementedHealthServiceServer
	db     Pinger
	policy PolicyChecker
	logger *zap.Logger
}

// NewServer returns a Health server. Either dependency may be nil (in-memory mode, no policy).
func NewServer(db Pinger, policy PolicyChecker, logger *zap.Logger) *Server {
	return &Server{db: db, policy: policy, logger: logging.OrNop(logger)}
}

// HealthCheck reports SERVING only when every configured dependency answers.
func (s *Server) HealthCheck(ctx context.Context, _ *lockv1.HealthCheckRequest) (*lockv1.HealthCheckResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			s.logger.Warn("health: database ping failed", zap.Error(err))
			return &lockv1.HealthCheckResponse{Status: lockv1.ServingStatusNotServing}, nil
		}
	}
	if s.policy != nil {
		if err := s.policy.HealthCheck(ctx); err != nil {
			s.logger.Warn("health: policy check failed", zap.Error(err))
			return &lockv1.HealthCheckResponse{Status: lockv1.ServingStatusNotServing}, nil
		}
	}
	return &lockv1.HealthCheckResponse{Status: lockv1.ServingStatusServing}, nil
}
