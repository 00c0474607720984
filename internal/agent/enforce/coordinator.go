package enforce

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"device-lock-control-plane/internal/agent/state"
	"device-lock-control-plane/internal/logging"
)

// Outcome is the result of one Apply.
type Outcome struct {
	// Engaged lists the backends enforcing after the call, sorted.
	Engaged []Capability
	Errors  []error
	// Changed is false when the decision matched the previous one and backends were not touched.
	Changed bool
}

// EngagedNames returns Engaged as strings for the state record.
func (o Outcome) EngagedNames() []string {
	out := make([]string, len(o.Engaged))
	for i, c := range o.Engaged {
		out[i] = string(c)
	}
	return out
}

// ErrorText joins the backend errors for reporting, empty when there were none.
func (o Outcome) ErrorText() string {
	parts := make([]string, 0, len(o.Errors))
	for _, err := range o.Errors {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "; ")
}

type decision struct {
	locked    bool
	lockUntil time.Time
	version   int64
	// available lists the capabilities the platform offered, comma-joined.
	available string
}

// Coordinator fans the lock decision out to the configured backends. OwnerPolicy is
// authoritative when it engages; otherwise AccessibilityBlocker and VpnFilter are
// engaged together.
type Coordinator struct {
	backends map[Capability]Backend
	logger   *zap.Logger

	mu   sync.Mutex
	last *decision
	// failed is set when a backend call returned an error, so the next Apply retries.
	failed bool
	// unavailable holds the errors for capabilities missing under last.
	unavailable []error
	engaged     map[Capability]bool
}

// NewCoordinator returns a Coordinator over the given backends. A later backend with
// the same capability replaces an earlier one.
func NewCoordinator(logger *zap.Logger, backends ...Backend) *Coordinator {
	c := &Coordinator{
		backends: make(map[Capability]Backend, len(backends)),
		logger:   logging.OrNop(logger),
		engaged:  make(map[Capability]bool),
	}
	for _, b := range backends {
		if b != nil {
			c.backends[b.Capability()] = b
		}
	}
	return c
}

// Capabilities returns the configured backend capabilities, sorted.
func (c *Coordinator) Capabilities() []Capability {
	out := make([]Capability, 0, len(c.backends))
	for name := range c.backends {
		out = append(out, name)
	}
	sortCaps(out)
	return out
}

// Apply enforces snap as of now. Repeating a decision does not touch the backends
// unless a backend call failed last time or the set of available backends changed.
// While locked, ErrNoEnforcement is returned if nothing could be engaged; backend
// failures and unavailable capabilities are listed in the outcome either way.
func (c *Coordinator) Apply(ctx context.Context, snap *state.Snapshot, now time.Time) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := decision{
		locked:    snap.LockedAt(now),
		lockUntil: snap.LockUntil,
		version:   snap.RuleSetVersion(),
		available: c.availableKey(),
	}
	if !d.locked {
		d.lockUntil = time.Time{}
	}
	if c.last != nil && *c.last == d && !c.failed {
		out := Outcome{Engaged: c.engagedList(), Errors: c.unavailable}
		if d.locked && len(out.Engaged) == 0 {
			return out, ErrNoEnforcement
		}
		return out, nil
	}

	var errs []error
	if d.locked {
		errs = c.engage(ctx, Policy{LockUntil: snap.LockUntil, RuleSet: snap.RuleSet})
	} else {
		errs = c.disengageAll(ctx, nil)
	}
	c.last = &d
	c.failed = false
	c.unavailable = nil
	for _, err := range errs {
		var ee *EnforcementError
		if errors.As(err, &ee) && ee.Err == nil {
			c.unavailable = append(c.unavailable, err)
			continue
		}
		c.failed = true
	}

	out := Outcome{Engaged: c.engagedList(), Errors: errs, Changed: true}
	c.logger.Info("enforcement applied",
		zap.Bool("locked", d.locked),
		zap.Time("lock_until", d.lockUntil),
		zap.Int64("ruleset_version", d.version),
		zap.Strings("engaged", out.EngagedNames()),
		zap.Int("errors", len(errs)),
	)
	if d.locked && len(out.Engaged) == 0 {
		return out, ErrNoEnforcement
	}
	return out, nil
}

func (c *Coordinator) availableKey() string {
	var names []string
	for _, name := range c.Capabilities() {
		if c.backends[name].Available() {
			names = append(names, string(name))
		}
	}
	return strings.Join(names, ",")
}

func (c *Coordinator) engage(ctx context.Context, p Policy) []error {
	var errs []error
	if b, ok := c.backends[OwnerPolicy]; ok {
		err := c.engageOne(ctx, b, p)
		if err == nil {
			errs = append(errs, c.disengageAll(ctx, map[Capability]bool{OwnerPolicy: true})...)
			return errs
		}
		errs = append(errs, err)
	}
	for _, name := range []Capability{AccessibilityBlocker, VpnFilter} {
		b, ok := c.backends[name]
		if !ok {
			continue
		}
		if err := c.engageOne(ctx, b, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (c *Coordinator) engageOne(ctx context.Context, b Backend, p Policy) error {
	name := b.Capability()
	if !b.Available() {
		c.engaged[name] = false
		return &EnforcementError{Capability: name}
	}
	if err := b.Engage(ctx, p); err != nil {
		c.engaged[name] = false
		c.logger.Warn("backend engage failed", zap.String("capability", string(name)), zap.Error(err))
		return &EnforcementError{Capability: name, Err: err}
	}
	c.engaged[name] = true
	return nil
}

// disengageAll releases every available backend not in keep. Backends are released
// even when not known to be engaged, since a previous process may have engaged them.
func (c *Coordinator) disengageAll(ctx context.Context, keep map[Capability]bool) []error {
	var errs []error
	for _, name := range c.Capabilities() {
		if keep[name] {
			continue
		}
		b := c.backends[name]
		if !b.Available() {
			c.engaged[name] = false
			continue
		}
		if err := b.Disengage(ctx); err != nil {
			c.logger.Warn("backend disengage failed", zap.String("capability", string(name)), zap.Error(err))
			errs = append(errs, &EnforcementError{Capability: name, Err: err})
			continue
		}
		c.engaged[name] = false
	}
	return errs
}

func (c *Coordinator) engagedList() []Capability {
	var out []Capability
	for name, on := range c.engaged {
		if on {
			out = append(out, name)
		}
	}
	sortCaps(out)
	return out
}

func sortCaps(caps []Capability) {
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
}
