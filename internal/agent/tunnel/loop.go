// Package tunnel moves packets between the device-facing TUN interface and the uplink,
// dropping outbound flows the filter engine rejects.
package tunnel

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"device-lock-control-plane/internal/agent/filter"
	"device-lock-control-plane/internal/logging"
)

const (
	sweepEvery   = 30 * time.Second
	maxPacketLen = 65535
)

// Loop forwards packets while it runs. Outbound packets (device → uplink) are decided by
// the engine; inbound DNS answers teach the engine address→name mappings.
type Loop struct {
	device io.ReadWriteCloser
	uplink io.ReadWriteCloser
	engine *filter.Engine
	logger *zap.Logger

	running atomic.Bool
	dropped atomic.Uint64
}

func NewLoop(device, uplink io.ReadWriteCloser, engine *filter.Engine, logger *zap.Logger) *Loop {
	return &Loop{device: device, uplink: uplink, engine: engine, logger: logging.OrNop(logger)}
}

// Running reports whether packets are being forwarded.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// Dropped returns the number of outbound packets dropped so far.
func (l *Loop) Dropped() uint64 {
	return l.dropped.Load()
}

// Run forwards packets until ctx is cancelled or either side fails. Cancelling ctx
// closes both interfaces to unblock pending reads.
func (l *Loop) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	l.running.Store(true)
	defer l.running.Store(false)

	errc := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); errc <- l.outbound(ctx) }()
	go func() { defer wg.Done(); errc <- l.inbound(ctx) }()

	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err = <-errc:
			break loop
		case <-ticker.C:
			if n := l.engine.Sweep(); n > 0 {
				l.logger.Debug("idle flows expired", zap.Int("count", n))
			}
		}
	}
	cancel()
	_ = l.device.Close()
	_ = l.uplink.Close()
	wg.Wait()
	return err
}

func (l *Loop) outbound(ctx context.Context) error {
	buf := make([]byte, maxPacketLen)
	for {
		n, err := l.device.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		pkt := buf[:n]
		p, perr := Parse(pkt)
		switch {
		case perr != nil:
			// Unparseable traffic cannot be classified.
			if l.engine.Active() {
				l.dropped.Add(1)
				continue
			}
		case l.engine.Inspect(p).Verdict == filter.Drop:
			l.dropped.Add(1)
			continue
		}
		if _, err := l.uplink.Write(pkt); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (l *Loop) inbound(ctx context.Context) error {
	buf := make([]byte, maxPacketLen)
	for {
		n, err := l.uplink.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		pkt := buf[:n]
		if p, err := Parse(pkt); err == nil && p.Src.Port() == 53 {
			switch p.Proto {
			case filter.ProtoUDP:
				l.engine.ObserveDNSResponse(p.Payload)
			case filter.ProtoTCP:
				if len(p.Payload) > 2 {
					l.engine.ObserveDNSResponse(p.Payload[2:])
				}
			}
		}
		if _, err := l.device.Write(pkt); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
