package filter

import (
	"net/netip"
	"time"

	"github.com/allegro/bigcache"
	"golang.org/x/net/dns/dnsmessage"
)

// nameCache maps destination addresses to the host names they were resolved from.
type nameCache struct {
	cache *bigcache.BigCache
}

func newNameCache(ttl time.Duration) (*nameCache, error) {
	cfg := bigcache.DefaultConfig(ttl)
	cfg.Shards = 64
	cfg.CleanWindow = time.Minute
	cfg.MaxEntriesInWindow = 10000
	cfg.MaxEntrySize = 256
	cfg.HardMaxCacheSize = 16
	cfg.Verbose = false
	c, err := bigcache.NewBigCache(cfg)
	if err != nil {
		return nil, err
	}
	return &nameCache{cache: c}, nil
}

func (n *nameCache) store(addr netip.Addr, name string) {
	_ = n.cache.Set(addr.Unmap().String(), []byte(canonical(name)))
}

func (n *nameCache) lookup(addr netip.Addr) (string, bool) {
	v, err := n.cache.Get(addr.Unmap().String())
	if err != nil || len(v) == 0 {
		return "", false
	}
	return string(v), true
}

// parseAnswers maps every A/AAAA answer of a DNS response to the question name, so
// CNAME chains resolve to the name the client asked for.
func parseAnswers(msg []byte) map[netip.Addr]string {
	var p dnsmessage.Parser
	h, err := p.Start(msg)
	if err != nil || !h.Response || h.RCode != dnsmessage.RCodeSuccess {
		return nil
	}
	q, err := p.Question()
	if err != nil {
		return nil
	}
	if err := p.SkipAllQuestions(); err != nil {
		return nil
	}
	out := make(map[netip.Addr]string)
	for {
		ah, err := p.AnswerHeader()
		if err != nil {
			break
		}
		switch ah.Type {
		case dnsmessage.TypeA:
			r, err := p.AResource()
			if err != nil {
				return out
			}
			out[netip.AddrFrom4(r.A)] = q.Name.String()
		case dnsmessage.TypeAAAA:
			r, err := p.AAAAResource()
			if err != nil {
				return out
			}
			out[netip.AddrFrom16(r.AAAA)] = q.Name.String()
		default:
			if err := p.SkipAnswer(); err != nil {
				return out
			}
		}
	}
	return out
}
