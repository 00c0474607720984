package domain

import "sort"

// Built-in categories.
const (
	CategoryAdult    = "adult"
	CategoryGambling = "gambling"
	CategorySocial   = "social"
	CategoryYouTube  = "youtube"
	CategoryVPN      = "vpn"
)

// catalog maps a category to the registrable domains it blocks. Subdomains are matched
// by the filter, so only apex names are listed.
var catalog = map[string][]string{
	CategoryAdult: {
		"pornhub.com", "xvideos.com", "xnxx.com", "xhamster.com", "redtube.com",
		"youporn.com", "onlyfans.com", "chaturbate.com", "stripchat.com",
	},
	CategoryGambling: {
		"bet365.com", "williamhill.com", "paddypower.com", "betfair.com", "pokerstars.com",
		"draftkings.com", "fanduel.com", "888casino.com", "skybet.com", "stake.com",
	},
	CategorySocial: {
		"twitter.com", "x.com", "tiktok.com", "instagram.com", "facebook.com",
		"snapchat.com", "reddit.com", "threads.net",
	},
	CategoryYouTube: {
		"youtube.com", "youtu.be", "googlevideo.com", "ytimg.com", "youtube-nocookie.com",
	},
	// VPN providers and public DNS-over-HTTPS resolvers, which would otherwise hide
	// lookups from the filter.
	CategoryVPN: {
		"nordvpn.com", "expressvpn.com", "protonvpn.com", "surfshark.com", "mullvad.net",
		"privateinternetaccess.com", "windscribe.com", "hotspotshield.com",
		"dns.google", "cloudflare-dns.com", "one.one.one.one", "doh.opendns.com", "dns.quad9.net",
	},
}

// Categories returns the names of all built-in categories, sorted.
func Categories() []string {
	out := make([]string, 0, len(catalog))
	for name := range catalog {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IsCategory reports whether name is a built-in category.
func IsCategory(name string) bool {
	_, ok := catalog[name]
	return ok
}

// CategoryDomains returns a copy of the domains blocked by a category.
func CategoryDomains(name string) []string {
	return append([]string(nil), catalog[name]...)
}
