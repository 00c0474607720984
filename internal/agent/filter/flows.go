package filter

import (
	"net/netip"
	"time"
)

type flowKey struct {
	proto uint8
	src   netip.AddrPort
	dst   netip.AddrPort
}

type flow struct {
	lastSeen time.Time
	packets  int
	// buf holds the TCP payload seen so far while the flow is pending.
	buf      []byte
	decided  bool
	decision Decision
}

// flowTable tracks per-connection verdicts. It is not safe for concurrent use.
type flowTable struct {
	limit int
	idle  time.Duration
	flows map[flowKey]*flow
}

func newFlowTable(limit int, idle time.Duration) *flowTable {
	return &flowTable{limit: limit, idle: idle, flows: make(map[flowKey]*flow)}
}

// lookup returns the live flow for key. A flow idle past the timeout is dropped.
func (t *flowTable) lookup(key flowKey, now time.Time) *flow {
	f, ok := t.flows[key]
	if !ok {
		return nil
	}
	if now.Sub(f.lastSeen) > t.idle {
		delete(t.flows, key)
		return nil
	}
	f.lastSeen = now
	return f
}

// insert adds a flow, sweeping idle ones when the table is full. It returns nil when
// there is still no room.
func (t *flowTable) insert(key flowKey, now time.Time) *flow {
	if len(t.flows) >= t.limit && t.sweep(now) == 0 {
		return nil
	}
	f := &flow{lastSeen: now}
	t.flows[key] = f
	return f
}

func (t *flowTable) sweep(now time.Time) int {
	n := 0
	for k, f := range t.flows {
		if now.Sub(f.lastSeen) > t.idle {
			delete(t.flows, k)
			n++
		}
	}
	return n
}

func (t *flowTable) reset() {
	t.flows = make(map[flowKey]*flow)
}

func (t *flowTable) len() int {
	return len(t.flows)
}
