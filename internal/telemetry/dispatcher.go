package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"device-lock-control-plane/internal/logging"
	"device-lock-control-plane/internal/telemetry/domain"
)

const (
	// DefaultQueueSize bounds the events waiting for delivery.
	DefaultQueueSize = 1024
	deliverTimeout   = 5 * time.Second
)

// Publish stamps and hands an event to emitter, ignoring delivery errors. Handlers use it
// with a Dispatcher so an RPC never waits on the event sinks. A nil emitter or event is a no-op.
func Publish(ctx context.Context, emitter EventEmitter, event *domain.Event) {
	if emitter == nil || event == nil {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_ = emitter.Emit(ctx, event)
}

// Dispatcher queues events and delivers them to a sink from one background goroutine.
// When the queue is full new events are dropped and counted.
type Dispatcher struct {
	sink    EventEmitter
	logger  *zap.Logger
	queue   chan *domain.Event
	done    chan struct{}
	dropped atomic.Uint64

	closeOnce sync.Once
	closing   chan struct{}
}

// NewDispatcher starts a Dispatcher delivering to sink. size <= 0 takes DefaultQueueSize.
func NewDispatcher(sink EventEmitter, logger *zap.Logger, size int) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	d := &Dispatcher{
		sink:    sink,
		logger:  logging.OrNop(logger),
		queue:   make(chan *domain.Event, size),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	go d.loop()
	return d
}

// Emit enqueues event without blocking. It returns ErrQueueFull when the event was dropped.
func (d *Dispatcher) Emit(_ context.Context, event *domain.Event) error {
	select {
	case <-d.closing:
		return ErrDispatcherClosed
	default:
	}
	select {
	case d.queue <- event:
		return nil
	default:
		if n := d.dropped.Add(1); n&(n-1) == 0 {
			d.logger.Warn("telemetry queue full, dropping events", zap.Uint64("dropped", n))
		}
		return ErrQueueFull
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops accepting events and waits until the queue is drained or ctx ends.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() { close(d.closing) })
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.closing:
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ev *domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	if err := d.sink.Emit(ctx, ev); err != nil {
		d.logger.Warn("telemetry delivery failed",
			zap.String("event_type", ev.EventType),
			zap.String("device_id", ev.DeviceID),
			zap.Error(err),
		)
	}
}
