package handler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	auditdomain "device-lock-control-plane/internal/audit/domain"
	"device-lock-control-plane/internal/clock"
	devicerepo "device-lock-control-plane/internal/device/repository"
	prefrepo "device-lock-control-plane/internal/ownersettings/repository"
	"device-lock-control-plane/internal/policy/engine"
	rsrepo "device-lock-control-plane/internal/ruleset/repository"
	"device-lock-control-plane/internal/server/interceptors"
	subdomain "device-lock-control-plane/internal/subscription/domain"
	subrepo "device-lock-control-plane/internal/subscription/repository"
	teldomain "device-lock-control-plane/internal/telemetry/domain"
	"device-lock-control-plane/internal/token"
)

const (
	testOwner    = "owner-1"
	testAudience = "altrii-device"
)

var testStart = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// recordingEmitter collects telemetry events emitted asynchronously.
type recordingEmitter struct {
	ch chan *teldomain.Event
}

func (r *recordingEmitter) Emit(ctx context.Context, e *teldomain.Event) error {
	r.ch <- e
	return nil
}

func (r *recordingEmitter) next(t *testing.T) *teldomain.Event {
	t.Helper()
	select {
	case e := <-r.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no telemetry event emitted")
		return nil
	}
}

type auditEntry struct {
	ownerID, deviceID, action string
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (r *recordingAudit) Record(ctx context.Context, ev auditdomain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, auditEntry{ev.OwnerID, ev.DeviceID, ev.Action})
}

// failingEvaluator implements engine.Evaluator and always errors.
type failingEvaluator struct{}

func (failingEvaluator) EvaluateLock(context.Context, engine.LockInput) (engine.LockDecision, error) {
	return engine.LockDecision{}, errors.New("policy unavailable")
}

func (failingEvaluator) HealthCheck(context.Context) error { return errors.New("policy unavailable") }

type fixture struct {
	clk       *clock.Manual
	codec     *token.Codec
	devices   *devicerepo.MemoryRepository
	rulesets  *rsrepo.MemoryRepository
	subs      *subrepo.MemoryRepository
	prefs     *prefrepo.MemoryRepository
	events    *recordingEmitter
	audit     *recordingAudit
	owner     *OwnerServer
	device    *DeviceServer
	deps      Deps
	ownerCtx  context.Context
	deviceCtx context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	keys, err := token.NewHMACKeys([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewHMACKeys: %v", err)
	}
	policy, err := engine.NewOPAEvaluator(context.Background(), "")
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	f := &fixture{
		clk:      clock.NewManual(testStart),
		devices:  devicerepo.NewMemoryRepository(),
		rulesets: rsrepo.NewMemoryRepository(),
		subs:     subrepo.NewMemoryRepository(),
		prefs:    prefrepo.NewMemoryRepository(),
		events:   &recordingEmitter{ch: make(chan *teldomain.Event, 32)},
		audit:    &recordingAudit{},
	}
	f.codec = token.NewCodec(keys, "altrii", f.clk)
	f.deps = Deps{
		Devices:       f.devices,
		RuleSets:      f.rulesets,
		Subscriptions: f.subs,
		Preferences:   f.prefs,
		Codec:         f.codec,
		Policy:        policy,
		Audit:         f.audit,
		Telemetry:     f.events,
		Clock:         f.clk,
		Audience:      testAudience,
		ProvisionTTL:  10 * time.Minute,
		MaxLock:       7 * 24 * time.Hour,
	}
	f.owner = NewOwnerServer(f.deps)
	f.device = NewDeviceServer(f.deps)
	f.ownerCtx = interceptors.WithOwner(context.Background(), testOwner)
	f.deviceCtx = context.Background()
	if err := f.subs.Upsert(context.Background(), &subdomain.Subscription{OwnerID: testOwner, Status: subdomain.StatusActive}); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return f
}
