// Package filter classifies outbound connections against the active RuleSet. Names come
// from the TLS ClientHello SNI, DNS questions, plaintext HTTP Host headers or the
// DNS-learned address cache; anything else is ambiguous and follows the RuleSet's
// DefaultUnknownSNI policy.
package filter

import (
	"errors"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"device-lock-control-plane/internal/clock"
	"device-lock-control-plane/internal/logging"
	rsdomain "device-lock-control-plane/internal/ruleset/domain"
)

// IP protocol numbers handled by the engine.
const (
	ProtoTCP uint8 = 6
	ProtoUDP uint8 = 17
)

// Packet is the part of an outbound IP packet the engine looks at.
type Packet struct {
	Proto   uint8
	Src     netip.AddrPort
	Dst     netip.AddrPort
	Payload []byte
	// Fragment marks a non-first IP fragment, which carries no transport header.
	Fragment bool
}

// Verdict is the action for a packet.
type Verdict uint8

const (
	Allow Verdict = iota
	Drop
)

func (v Verdict) String() string {
	if v == Drop {
		return "drop"
	}
	return "allow"
}

// Reason explains a Decision.
type Reason string

const (
	// ReasonInactive: no lock is in force, everything passes.
	ReasonInactive Reason = "inactive"
	// ReasonPending: a TCP flow has not shown classifiable payload yet.
	ReasonPending Reason = "pending"
	ReasonBlocked Reason = "blocked"
	ReasonAllowed Reason = "allowed"
	// ReasonAmbiguous: no name could be extracted.
	ReasonAmbiguous Reason = "ambiguous"
	// ReasonEvasion: a recognized tunnel or encrypted-DNS protocol.
	ReasonEvasion Reason = "evasion"
	// ReasonFragment: a trailing IP fragment. It cannot be reassembled unless the
	// first fragment was allowed, so it follows that verdict.
	ReasonFragment Reason = "fragment"
)

// Decision is the verdict for a flow.
type Decision struct {
	Verdict Verdict
	Reason  Reason
	// Name is the classified host name, if any.
	Name string
	// Protocol is how the name was obtained (tls, dns, http, cache) or the recognized tunnel protocol.
	Protocol string
}

const (
	DefaultPacketBudget = 8
	DefaultFlowIdle     = 5 * time.Minute
	DefaultNameTTL      = 30 * time.Minute
	DefaultMaxFlows     = 65536
)

// Config tunes an Engine. Zero values take the defaults.
type Config struct {
	// PacketBudget is how many packets a TCP flow may send before it must be classified.
	PacketBudget int
	FlowIdle     time.Duration
	NameTTL      time.Duration
	MaxFlows     int
	// Registerer receives the engine's metrics; nil leaves them unregistered.
	Registerer prometheus.Registerer
	Clock      clock.Clock
	Logger     *zap.Logger
}

// rules is one immutable snapshot of the filtering policy.
type rules struct {
	active       bool
	version      int64
	blocked      map[string]struct{}
	blockUnknown bool
}

// Engine decides outbound packets. Rule updates swap an immutable snapshot, so a
// decision always sees one consistent RuleSet.
type Engine struct {
	cfg     Config
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics
	names   *nameCache

	rules atomic.Pointer[rules]

	mu    sync.Mutex
	flows *flowTable
}

// NewEngine returns an inactive Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.PacketBudget <= 0 {
		cfg.PacketBudget = DefaultPacketBudget
	}
	if cfg.FlowIdle <= 0 {
		cfg.FlowIdle = DefaultFlowIdle
	}
	if cfg.NameTTL <= 0 {
		cfg.NameTTL = DefaultNameTTL
	}
	if cfg.MaxFlows <= 0 {
		cfg.MaxFlows = DefaultMaxFlows
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	m, err := newMetrics(cfg.Registerer)
	if err != nil {
		return nil, err
	}
	names, err := newNameCache(cfg.NameTTL)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:     cfg,
		clock:   cfg.Clock,
		logger:  logging.OrNop(cfg.Logger),
		metrics: m,
		names:   names,
		flows:   newFlowTable(cfg.MaxFlows, cfg.FlowIdle),
	}
	e.rules.Store(&rules{})
	return e, nil
}

// Activate starts filtering against rs. A nil rs blocks ambiguous traffic and no names.
// Flows already decided keep their verdict; pending flows are decided under rs.
func (e *Engine) Activate(rs *rsdomain.RuleSet) {
	next := &rules{
		active:       true,
		blocked:      make(map[string]struct{}),
		blockUnknown: true,
	}
	if rs != nil {
		next.version = rs.Version
		next.blockUnknown = rs.Policy.BlockUnknown()
		for _, d := range rs.BlockedDomains {
			next.blocked[canonical(d)] = struct{}{}
		}
	}
	e.rules.Store(next)
	e.logger.Info("filter activated",
		zap.Int64("ruleset_version", next.version),
		zap.Int("blocked_domains", len(next.blocked)),
		zap.Bool("block_unknown", next.blockUnknown),
	)
}

// Deactivate lets all traffic through.
func (e *Engine) Deactivate() {
	e.rules.Store(&rules{})
	e.mu.Lock()
	e.flows.reset()
	e.mu.Unlock()
	e.metrics.flows.Set(0)
	e.logger.Info("filter deactivated")
}

// Active reports whether a lock is being filtered.
func (e *Engine) Active() bool {
	return e.rules.Load().active
}

// Inspect decides an outbound packet. The verdict of a flow is taken once and held for
// its lifetime, across rule updates; DNS queries are decided per message.
func (e *Engine) Inspect(p Packet) Decision {
	r := e.rules.Load()
	if !r.active {
		return Decision{Verdict: Allow, Reason: ReasonInactive}
	}
	if p.Fragment {
		return e.record(Decision{Verdict: Allow, Reason: ReasonFragment})
	}

	if p.Proto == ProtoUDP && p.Dst.Port() == 53 {
		return e.record(e.classifyDNS(r, p.Payload, "dns"))
	}

	now := e.clock.Now()
	key := flowKey{proto: p.Proto, src: p.Src, dst: p.Dst}

	e.mu.Lock()
	defer e.mu.Unlock()
	f := e.flows.lookup(key, now)
	if f != nil && f.decided {
		return f.decision
	}
	if f == nil {
		f = e.flows.insert(key, now)
		e.metrics.flows.Set(float64(e.flows.len()))
	}

	var d Decision
	if f == nil {
		// Table full: decide from this packet alone.
		d = e.classify(r, p, p.Payload, 1)
	} else {
		f.packets++
		stream := p.Payload
		if p.Proto == ProtoTCP {
			if len(p.Payload) > 0 && len(f.buf) < maxBuffered {
				f.buf = append(f.buf, p.Payload[:min(len(p.Payload), maxBuffered-len(f.buf))]...)
			}
			stream = f.buf
		}
		d = e.classify(r, p, stream, f.packets)
		if d.Reason == ReasonPending {
			return d
		}
		f.decided = true
		f.decision = d
		f.buf = nil
	}
	return e.record(d)
}

// maxBuffered bounds the per-flow bytes kept while waiting for a complete ClientHello.
const maxBuffered = 16 << 10

func (e *Engine) classify(r *rules, p Packet, stream []byte, packets int) Decision {
	if proto := evasionProtocol(p); proto != "" {
		return e.ambiguous(r, ReasonEvasion, proto)
	}
	if p.Proto != ProtoTCP {
		return e.fromCache(r, p.Dst.Addr())
	}

	if len(stream) == 0 {
		if packets > e.cfg.PacketBudget {
			return e.ambiguous(r, ReasonAmbiguous, "tcp")
		}
		return Decision{Verdict: Allow, Reason: ReasonPending}
	}

	var (
		name  string
		err   error
		proto string
	)
	switch {
	case p.Dst.Port() == 53:
		proto = "dns-tcp"
		msg, ok := tcpDNSMessage(stream)
		if !ok {
			err = errNeedMore
			break
		}
		return e.classifyDNS(r, msg, proto)
	case stream[0] == recordTypeHandshake:
		proto = "tls"
		name, err = serverName(stream)
	default:
		proto = "http"
		name, err = httpHost(stream)
		if errors.Is(err, errNotHTTP) {
			return e.fromCache(r, p.Dst.Addr())
		}
	}

	switch {
	case err == nil:
		return r.decide(name, proto)
	case errors.Is(err, errNeedMore) && packets <= e.cfg.PacketBudget:
		return Decision{Verdict: Allow, Reason: ReasonPending}
	default:
		return e.ambiguous(r, ReasonAmbiguous, proto)
	}
}

// tcpDNSMessage returns the first length-prefixed DNS message in stream, or false
// while it is incomplete.
func tcpDNSMessage(stream []byte) ([]byte, bool) {
	if len(stream) < 2 {
		return nil, false
	}
	n := int(stream[0])<<8 | int(stream[1])
	if len(stream) < 2+n {
		return nil, false
	}
	return stream[2 : 2+n], true
}

func (e *Engine) classifyDNS(r *rules, msg []byte, proto string) Decision {
	name, err := dnsQuestion(msg)
	if err != nil {
		return e.ambiguous(r, ReasonAmbiguous, proto)
	}
	return r.decide(name, proto)
}

func (e *Engine) fromCache(r *rules, addr netip.Addr) Decision {
	if name, ok := e.names.lookup(addr); ok {
		return r.decide(name, "cache")
	}
	return e.ambiguous(r, ReasonAmbiguous, "")
}

func (e *Engine) ambiguous(r *rules, reason Reason, proto string) Decision {
	d := Decision{Verdict: Allow, Reason: reason, Protocol: proto}
	if r.blockUnknown {
		d.Verdict = Drop
	}
	return d
}

func (e *Engine) record(d Decision) Decision {
	e.metrics.decisions.WithLabelValues(d.Verdict.String(), string(d.Reason)).Inc()
	if d.Verdict == Drop {
		e.logger.Debug("flow dropped",
			zap.String("reason", string(d.Reason)),
			zap.String("name", d.Name),
			zap.String("protocol", d.Protocol),
		)
	}
	return d
}

// ObserveDNSResponse learns address→name mappings from an inbound DNS answer so later
// flows to those addresses can be classified without SNI.
func (e *Engine) ObserveDNSResponse(msg []byte) {
	for addr, name := range parseAnswers(msg) {
		e.names.store(addr, name)
	}
}

// Sweep drops flows idle for longer than the configured timeout.
func (e *Engine) Sweep() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.flows.sweep(e.clock.Now())
	e.metrics.flows.Set(float64(e.flows.len()))
	return n
}

func (r *rules) decide(name, proto string) Decision {
	name = canonical(name)
	if r.matches(name) {
		return Decision{Verdict: Drop, Reason: ReasonBlocked, Name: name, Protocol: proto}
	}
	return Decision{Verdict: Allow, Reason: ReasonAllowed, Name: name, Protocol: proto}
}

// matches reports whether name or any parent domain of it is blocked.
func (r *rules) matches(name string) bool {
	for name != "" {
		if _, ok := r.blocked[name]; ok {
			return true
		}
		i := strings.IndexByte(name, '.')
		if i < 0 {
			return false
		}
		name = name[i+1:]
	}
	return false
}

func canonical(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}
