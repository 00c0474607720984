package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"device-lock-control-plane/internal/clock"
	"device-lock-control-plane/internal/config"
	"device-lock-control-plane/internal/db"
	devicehandler "device-lock-control-plane/internal/device/handler"
	"device-lock-control-plane/internal/logging"
	"device-lock-control-plane/internal/policy/engine"
	"device-lock-control-plane/internal/security"
	"device-lock-control-plane/internal/server"
	"device-lock-control-plane/internal/telemetry"
	teleotel "device-lock-control-plane/internal/telemetry/otel"
	"device-lock-control-plane/internal/telemetry/producer"
	"device-lock-control-plane/internal/token"

	auditrepo "device-lock-control-plane/internal/audit/repository"
	devicerepo "device-lock-control-plane/internal/device/repository"
	prefrepo "device-lock-control-plane/internal/ownersettings/repository"
	rsrepo "device-lock-control-plane/internal/ruleset/repository"
	subrepo "device-lock-control-plane/internal/subscription/repository"
)

const serviceName = "altrii-control-plane"

type repositories struct {
	devices       devicerepo.Repository
	rulesets      rsrepo.Repository
	subscriptions subrepo.Repository
	preferences   prefrepo.Repository
	audit         auditrepo.Repository
}

func postgresRepositories(conn *sql.DB) repositories {
	return repositories{
		devices:       devicerepo.NewPostgresRepository(conn),
		rulesets:      rsrepo.NewPostgresRepository(conn),
		subscriptions: subrepo.NewPostgresRepository(conn),
		preferences:   prefrepo.NewPostgresRepository(conn),
		audit:         auditrepo.NewPostgresRepository(conn),
	}
}

func memoryRepositories() repositories {
	return repositories{
		devices:       devicerepo.NewMemoryRepository(),
		rulesets:      rsrepo.NewMemoryRepository(),
		subscriptions: subrepo.NewMemoryRepository(),
		preferences:   prefrepo.NewMemoryRepository(),
		audit:         auditrepo.NewMemoryRepository(),
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()
	logger := logging.New(cfg.Env == "development")
	defer func() { _ = logger.Sync() }()

	providers, err := teleotel.NewProviders(ctx, cfg.OTelEndpoint, serviceName, cfg.OTelInsecure)
	if err != nil {
		logger.Fatal("otel", zap.Error(err))
	}
	providers.SetGlobal()

	sinks := []telemetry.EventEmitter{teleotel.NewEventEmitter(providers.LoggerProvider)}
	kafka := producer.NewKafkaSink(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic)
	if kafka != nil {
		sinks = append(sinks, kafka)
		logger.Info("emitting device events to kafka", zap.String("topic", kafka.Topic()))
	}
	events := telemetry.NewDispatcher(telemetry.Multi(sinks...), logger, telemetry.DefaultQueueSize)

	repos := memoryRepositories()
	var pinger *sql.DB
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultPool)
		if err != nil {
			logger.Fatal("db", zap.Error(err))
		}
		defer conn.Close()
		repos = postgresRepositories(conn)
		pinger = conn
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory stores (data is lost on restart)")
	}

	deviceKeys, err := security.TokenKeys(cfg.TokenSecret, cfg.TokenPrivateKey, cfg.TokenPublicKey)
	if err != nil {
		logger.Fatal("device token keys (set TOKEN_SECRET or TOKEN_PRIVATE_KEY)", zap.Error(err))
	}
	if !deviceKeys.CanSign() {
		logger.Fatal("device token keys: a signing key is required on the server")
	}
	accessKeys, err := security.TokenKeys(cfg.JWTSecret, cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		logger.Fatal("owner access keys (set JWT_SECRET or JWT_PUBLIC_KEY)", zap.Error(err))
	}

	module, err := engine.LoadPolicyFile(cfg.LockPolicyPath)
	if err != nil {
		logger.Fatal("policy", zap.Error(err))
	}
	policy, err := engine.NewOPAEvaluator(ctx, module)
	if err != nil {
		logger.Fatal("policy", zap.Error(err))
	}

	deps := server.Deps{
		Handlers: devicehandler.Deps{
			Devices:       repos.devices,
			RuleSets:      repos.rulesets,
			Subscriptions: repos.subscriptions,
			Preferences:   repos.preferences,
			Codec:         token.NewCodec(deviceKeys, cfg.TokenIssuer, clock.Real{}),
			Policy:        policy,
			Telemetry:     events,
			Clock:         clock.Real{},
			Audience:      cfg.TokenAudience,
			ProvisionTTL:  cfg.ProvisionTTL,
			MaxLock:       cfg.MaxLockDuration,
		},
		AuditRepo:           repos.audit,
		Tokens:              security.NewTokenProvider(accessKeys, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL()),
		HealthPolicyChecker: policy,
		Logger:              logger,
	}
	if pinger != nil {
		deps.HealthPinger = pinger
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}
	defer lis.Close()

	s := server.NewGRPCServer(deps)
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr), zap.Duration("max_lock", cfg.MaxLockDuration))
		if err := s.Serve(lis); err != nil {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gRPC server")
	s.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := events.Close(shutdownCtx); err != nil {
		logger.Warn("telemetry drain incomplete", zap.Uint64("dropped", events.Dropped()), zap.Error(err))
	}
	if err := kafka.Close(); err != nil {
		logger.Warn("kafka sink close", zap.Error(err))
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Warn("otel shutdown", zap.Error(err))
	}
	logger.Info("gRPC server stopped")
}
