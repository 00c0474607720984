// Package domain holds the RuleSet model shared by the control plane and the device agent:
// category expansion, domain normalization and the tightening check used while a device is locked.
package domain

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/net/idna"
)

// Values of Policy.DefaultUnknownSNI.
const (
	UnknownAllow = "allow"
	UnknownBlock = "block"
)

// Policy holds engine-level flags.
type Policy struct {
	// DefaultUnknownSNI decides traffic that cannot be classified: UnknownAllow or UnknownBlock.
	DefaultUnknownSNI string
}

// BlockUnknown reports whether ambiguous traffic is dropped.
func (p Policy) BlockUnknown() bool {
	return p.DefaultUnknownSNI == UnknownBlock
}

// RuleSet is a versioned, category-expanded blocklist for one device. Versions only increase.
type RuleSet struct {
	DeviceID       string
	Version        int64
	Categories     map[string]bool
	BlockedDomains []string
	Policy         Policy
	GeneratedAt    time.Time
}

// Settings are the owner-editable inputs a RuleSet is generated from.
type Settings struct {
	Categories    map[string]bool
	CustomDomains []string
	BlockVPN      bool
}

// DefaultSettings are applied to newly provisioned devices.
func DefaultSettings() Settings {
	return Settings{
		Categories: map[string]bool{
			CategoryAdult:    true,
			CategoryGambling: true,
			CategorySocial:   false,
			CategoryYouTube:  false,
		},
		BlockVPN: true,
	}
}

// Build expands settings into the RuleSet for the given version. Unknown category names are
// kept in Categories but contribute no domains; invalid custom domains are dropped.
func Build(deviceID string, version int64, s Settings, now time.Time) *RuleSet {
	cats := make(map[string]bool, len(s.Categories)+1)
	set := make(map[string]struct{})
	for name, on := range s.Categories {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == CategoryVPN {
			continue
		}
		cats[name] = on
		if !on {
			continue
		}
		for _, d := range catalog[name] {
			set[d] = struct{}{}
		}
	}
	cats[CategoryVPN] = s.BlockVPN
	if s.BlockVPN {
		for _, d := range catalog[CategoryVPN] {
			set[d] = struct{}{}
		}
	}
	for _, d := range s.CustomDomains {
		if n, ok := NormalizeDomain(d); ok {
			set[n] = struct{}{}
		}
	}

	domains := make([]string, 0, len(set))
	for d := range set {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	policy := Policy{DefaultUnknownSNI: UnknownAllow}
	if s.BlockVPN {
		policy.DefaultUnknownSNI = UnknownBlock
	}
	return &RuleSet{
		DeviceID:       deviceID,
		Version:        version,
		Categories:     cats,
		BlockedDomains: domains,
		Policy:         policy,
		GeneratedAt:    now.UTC(),
	}
}

// NormalizeDomain lowercases and IDNA-maps a host name, dropping a trailing dot, a
// leading "*." or "www." and any scheme or path. It reports false for names that are
// not valid host names.
func NormalizeDomain(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, ".")
	s = strings.TrimPrefix(s, "*.")
	if s == "" {
		return "", false
	}
	ascii, err := idna.Lookup.ToASCII(s)
	if err != nil || ascii == "" {
		return "", false
	}
	ascii = strings.TrimPrefix(ascii, "www.")
	if !strings.Contains(ascii, ".") {
		return "", false
	}
	return ascii, true
}

// Tightens reports whether next blocks at least everything prev blocks: no category
// switched off, no custom domain removed and VPN blocking not disabled.
func Tightens(prev, next Settings) bool {
	if prev.BlockVPN && !next.BlockVPN {
		return false
	}
	for name, on := range prev.Categories {
		if on && !next.Categories[name] {
			return false
		}
	}
	have := make(map[string]struct{}, len(next.CustomDomains))
	for _, d := range next.CustomDomains {
		if n, ok := NormalizeDomain(d); ok {
			have[n] = struct{}{}
		}
	}
	for _, d := range prev.CustomDomains {
		n, ok := NormalizeDomain(d)
		if !ok {
			continue
		}
		if _, kept := have[n]; !kept {
			return false
		}
	}
	return true
}
