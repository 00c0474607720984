// Package agent assembles the device agent: persisted lock state, enforcement
// backends, the VPN filter and its tunnel, and the sync loop.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"device-lock-control-plane/internal/agent/enforce"
	"device-lock-control-plane/internal/agent/filter"
	"device-lock-control-plane/internal/agent/remote"
	"device-lock-control-plane/internal/agent/state"
	"device-lock-control-plane/internal/agent/store"
	"device-lock-control-plane/internal/agent/syncer"
	"device-lock-control-plane/internal/agent/tunnel"
	"device-lock-control-plane/internal/clock"
	"device-lock-control-plane/internal/config"
	"device-lock-control-plane/internal/logging"
	"device-lock-control-plane/internal/security"
	"device-lock-control-plane/internal/token"
)

const provisionScheme = "altrii://provision"

// Options replace the agent's default collaborators. Zero values use the SQLite store
// at cfg.StatePath, a gRPC client for cfg.ServerAddr and the wall clock.
type Options struct {
	Logger *zap.Logger
	Clock  clock.Clock
	Store  store.Store
	Remote syncer.Remote
	// OpenTunnel opens the device-facing and uplink interfaces; defaults to tunnel.OpenTUN.
	OpenTunnel func(name string) (io.ReadWriteCloser, error)
}

// Agent is one device agent instance.
type Agent struct {
	cfg        *config.Agent
	logger     *zap.Logger
	clock      clock.Clock
	machine    *state.Machine
	engine     *filter.Engine
	coord      *enforce.Coordinator
	sched      *syncer.Scheduler
	registry   *prometheus.Registry
	openTunnel func(name string) (io.ReadWriteCloser, error)

	// tunnelUp is set while the packet loop is forwarding.
	tunnelUp atomic.Bool

	closers []io.Closer
}

// New builds an agent and restores its persisted state.
func New(ctx context.Context, cfg *config.Agent, opts Options) (*Agent, error) {
	a := &Agent{
		cfg:        cfg,
		logger:     logging.OrNop(opts.Logger),
		clock:      opts.Clock,
		registry:   prometheus.NewRegistry(),
		openTunnel: opts.OpenTunnel,
	}
	if a.clock == nil {
		a.clock = clock.Real{}
	}
	if a.openTunnel == nil {
		a.openTunnel = func(name string) (io.ReadWriteCloser, error) { return tunnel.OpenTUN(name) }
	}
	if err := a.build(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Agent) build(ctx context.Context, opts Options) error {
	keys, err := security.TokenKeys(a.cfg.TokenSecret, "", a.cfg.TokenPublicKey)
	if err != nil {
		return fmt.Errorf("agent: token keys: %w", err)
	}
	codec := token.NewCodec(keys, a.cfg.TokenIssuer, a.clock)

	st := opts.Store
	if st == nil {
		db, err := store.Open(ctx, a.cfg.StatePath)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db)
		st = db
	}
	a.machine = state.New(codec, a.cfg.TokenAudience, st, a.clock, a.logger)
	if err := a.machine.Restore(ctx); err != nil {
		return err
	}

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.engine, err = filter.NewEngine(filter.Config{Registerer: a.registry, Clock: a.clock, Logger: a.logger.Named("filter")})
	if err != nil {
		return fmt.Errorf("agent: filter: %w", err)
	}
	a.coord = enforce.NewCoordinator(a.logger.Named("enforce"), a.backends()...)

	rem := opts.Remote
	if rem == nil {
		client, err := remote.Dial(a.cfg.ServerAddr)
		if err != nil {
			return fmt.Errorf("agent: dial control plane: %w", err)
		}
		a.closers = append(a.closers, client)
		rem = client
	}
	a.sched, err = syncer.New(a.machine, rem, a.coord, syncer.Config{
		Interval:              a.cfg.SyncInterval,
		RevokeAfterRejections: a.cfg.RevokeAfterRejections,
		Capabilities:          a.cfg.Capabilities,
		Clock:                 a.clock,
		Logger:                a.logger.Named("sync"),
		Registerer:            a.registry,
	})
	return err
}

func (a *Agent) backends() []enforce.Backend {
	var out []enforce.Backend
	if a.cfg.HasCapability(config.CapabilityOwnerPolicy) {
		out = append(out, enforce.NewCommandBackend(enforce.OwnerPolicy, a.cfg.OwnerPolicyCommand))
	}
	if a.cfg.HasCapability(config.CapabilityAccessibility) {
		out = append(out, enforce.NewCommandBackend(enforce.AccessibilityBlocker, a.cfg.AccessibilityCommand))
	}
	if a.cfg.HasCapability(config.CapabilityVPN) {
		out = append(out, enforce.NewVPNBackend(a.engine, a.tunnelUp.Load))
	}
	return out
}

// Close releases the store and the server connection.
func (a *Agent) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Status returns the current state snapshot.
func (a *Agent) Status() *state.Snapshot {
	return a.machine.Snapshot()
}

// Provision accepts a raw provisioning token or the QR payload that carries one,
// binds the device, and tries to enroll with the server. Enrollment failures are
// returned alongside the claims; the next sync pass retries them.
func (a *Agent) Provision(ctx context.Context, input string) (token.Claims, error) {
	raw, err := ProvisioningToken(input)
	if err != nil {
		return token.Claims{}, err
	}
	claims, err := a.machine.Provision(ctx, raw)
	if err != nil {
		return token.Claims{}, err
	}
	a.logger.Info("device provisioned", zap.String("device_id", claims.DeviceID), zap.String("owner_id", claims.OwnerID))
	return claims, a.sched.Enroll(ctx)
}

// Unenroll forgets the device locally. It fails with state.ErrLocked during a lock.
func (a *Agent) Unenroll(ctx context.Context) error {
	return a.machine.Unenroll(ctx)
}

// Run serves metrics, brings up the tunnel when configured, and syncs until ctx is
// cancelled. Enforcement follows the restored state before the first server contact.
func (a *Agent) Run(ctx context.Context) error {
	if a.cfg.MetricsAddr != "" {
		srv, err := a.startMetricsServer(a.cfg.MetricsAddr)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	if a.cfg.TunName != "" {
		loop, err := a.startTunnel()
		if err != nil {
			return err
		}
		a.tunnelUp.Store(true)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := loop.Run(ctx); err != nil {
				a.logger.Error("tunnel stopped", zap.Error(err))
			}
			a.tunnelUp.Store(false)
			// The VPN backend is gone; let the coordinator fall back.
			a.sched.Trigger()
		}()
	}

	a.logger.Info("agent started",
		zap.String("server", a.cfg.ServerAddr),
		zap.String("state", string(a.machine.Snapshot().State)),
		zap.Strings("capabilities", a.cfg.Capabilities),
	)
	err := a.sched.Run(ctx)
	cancel()
	wg.Wait()
	return err
}

func (a *Agent) startTunnel() (*tunnel.Loop, error) {
	if a.cfg.UplinkTunName == "" {
		return nil, errors.New("agent: AGENT_UPLINK_TUN_NAME is required with AGENT_TUN_NAME")
	}
	device, err := a.openTunnel(a.cfg.TunName)
	if err != nil {
		return nil, fmt.Errorf("agent: open %s: %w", a.cfg.TunName, err)
	}
	uplink, err := a.openTunnel(a.cfg.UplinkTunName)
	if err != nil {
		_ = device.Close()
		return nil, fmt.Errorf("agent: open %s: %w", a.cfg.UplinkTunName, err)
	}
	return tunnel.NewLoop(device, uplink, a.engine, a.logger.Named("tunnel")), nil
}

func (a *Agent) startMetricsServer(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("agent: metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	a.logger.Info("metrics listening", zap.String("addr", ln.Addr().String()))
	return srv, nil
}

// ProvisioningToken extracts the token from a provisioning input: either the token
// itself or the JSON QR payload {"scheme":"altrii://provision","token":"..."}.
func ProvisioningToken(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", errors.New("agent: empty provisioning input")
	}
	if !strings.HasPrefix(s, "{") {
		return s, nil
	}
	var payload struct {
		Scheme string `json:"scheme"`
		Token  string `json:"token"`
	}
	if err := json.Unmarshal([]byte(s), &payload); err != nil {
		return "", fmt.Errorf("agent: provisioning payload: %w", err)
	}
	if payload.Scheme != provisionScheme {
		return "", fmt.Errorf("agent: unsupported provisioning scheme %q", payload.Scheme)
	}
	if payload.Token == "" {
		return "", errors.New("agent: provisioning payload without token")
	}
	return payload.Token, nil
}
