package enforce

import (
	"context"

	rsdomain "device-lock-control-plane/internal/ruleset/domain"
)

// Filter is the packet filter driven by the VPN backend.
type Filter interface {
	Activate(rs *rsdomain.RuleSet)
	Deactivate()
}

// VPNBackend engages the in-process VPN filter.
type VPNBackend struct {
	filter Filter
	ready  func() bool
}

// NewVPNBackend returns a VpnFilter backend. ready reports whether the tunnel is up;
// nil means always.
func NewVPNBackend(f Filter, ready func() bool) *VPNBackend {
	return &VPNBackend{filter: f, ready: ready}
}

func (b *VPNBackend) Capability() Capability { return VpnFilter }

func (b *VPNBackend) Available() bool {
	return b.filter != nil && (b.ready == nil || b.ready())
}

func (b *VPNBackend) Engage(_ context.Context, p Policy) error {
	b.filter.Activate(p.RuleSet)
	return nil
}

func (b *VPNBackend) Disengage(context.Context) error {
	b.filter.Deactivate()
	return nil
}
