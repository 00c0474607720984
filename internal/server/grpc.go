// Package server assembles the control plane gRPC server: interceptor chain, OTel stats
// handler and service registration.
package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"device-lock-control-plane/internal/api/lockv1"
	"device-lock-control-plane/internal/audit"
	audithandler "device-lock-control-plane/internal/audit/handler"
	auditrepo "device-lock-control-plane/internal/audit/repository"
	devicehandler "device-lock-control-plane/internal/device/handler"
	healthhandler "device-lock-control-plane/internal/health/handler"
	"device-lock-control-plane/internal/logging"
	"device-lock-control-plane/internal/server/interceptors"
)

// Deps holds the dependencies of the gRPC services.
type Deps struct {
	// Handlers are shared by OwnerService and DeviceService.
	Handlers devicehandler.Deps
	// AuditRepo backs AuditService and the audit interceptor. If nil, no RPCs are audited.
	AuditRepo auditrepo.Repository
	// Tokens validates owner bearer tokens.
	Tokens interceptors.AccessValidator
	// HealthPinger is used by HealthService for readiness (e.g. *sql.DB). If nil, HealthCheck skips DB ping.
	HealthPinger healthhandler.Pinger
	// HealthPolicyChecker is used by HealthService for readiness (e.g. OPA evaluator). If nil, HealthCheck skips policy check.
	HealthPolicyChecker healthhandler.PolicyChecker
	Logger              *zap.Logger
}

// PublicMethods are the RPCs served without an owner bearer token. Device calls are
// authenticated by provisioning token and installation id instead.
func PublicMethods() map[string]bool {
	return map[string]bool{
		lockv1.DeviceService_Enroll_FullMethodName:                 true,
		lockv1.DeviceService_GetLockStatus_FullMethodName:          true,
		lockv1.DeviceService_GetRuleSet_FullMethodName:             true,
		lockv1.DeviceService_ReportState_FullMethodName:            true,
		lockv1.DeviceService_GetOwnerLockPreference_FullMethodName: true,
		lockv1.HealthService_HealthCheck_FullMethodName:            true,
	}
}

// withAudit fills the handlers' audit trail from AuditRepo when not set explicitly.
func (d Deps) withAudit() Deps {
	if d.Handlers.Audit == nil && d.AuditRepo != nil {
		d.Handlers.Audit = audit.NewTrail(d.AuditRepo, interceptors.ClientIP, d.Handlers.Clock, d.Logger)
	}
	return d
}

// NewGRPCServer returns a grpc.Server with the interceptor chain and all services registered.
func NewGRPCServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	deps = deps.withAudit()
	logger := logging.OrNop(deps.Logger)
	skipAudit := map[string]bool{
		lockv1.HealthService_HealthCheck_FullMethodName:      true,
		lockv1.AuditService_ListAuditLogs_FullMethodName:     true,
		lockv1.OwnerService_GetLockPreference_FullMethodName: true,
	}
	skipTelemetry := map[string]bool{lockv1.HealthService_HealthCheck_FullMethodName: true}

	chain := []grpc.UnaryServerInterceptor{
		interceptors.LoggingUnary(logger),
		interceptors.AuthUnary(deps.Tokens, PublicMethods()),
	}
	if deps.Handlers.Audit != nil {
		chain = append(chain, interceptors.AuditUnary(deps.Handlers.Audit, skipAudit))
	}
	chain = append(chain, interceptors.TelemetryUnary(deps.Handlers.Telemetry, skipTelemetry))

	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(chain...),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers all services with the given server.
//
// Service → handler mapping:
//   - OwnerService  → internal/device/handler (OwnerServer)
//   - DeviceService → internal/device/handler (DeviceServer)
//   - AuditService  → internal/audit/handler
//   - HealthService → internal/health/handler
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	deps = deps.withAudit()
	deps.Handlers.Logger = logging.OrNop(deps.Logger)
	lockv1.RegisterOwnerServiceServer(s, devicehandler.NewOwnerServer(deps.Handlers))
	lockv1.RegisterDeviceServiceServer(s, devicehandler.NewDeviceServer(deps.Handlers))
	if deps.AuditRepo != nil {
		lockv1.RegisterAuditServiceServer(s, audithandler.NewServer(deps.AuditRepo, deps.Handlers.Logger))
	}
	lockv1.RegisterHealthServiceServer(s, healthhandler.NewServer(deps.HealthPinger, deps.HealthPolicyChecker, deps.Logger))
}
