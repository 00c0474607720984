package telemetry

import (
	"context"
	"errors"

	"device-lock-control-plane/internal/telemetry/domain"
)

var (
	// ErrQueueFull is returned by Dispatcher.Emit when the event was dropped.
	ErrQueueFull = errors.New("telemetry: queue full")
	// ErrDispatcherClosed is returned by Dispatcher.Emit after Close.
	ErrDispatcherClosed = errors.New("telemetry: dispatcher closed")
)

// EventEmitter emits telemetry events (e.g. to OTel Logs or Kafka). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.Event) error
}

// Multi returns an EventEmitter that forwards each event to every non-nil emitter and joins their errors.
func Multi(emitters ...EventEmitter) EventEmitter {
	out := make(multiEmitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

type multiEmitter []EventEmitter

func (m multiEmitter) Emit(ctx context.Context, event *domain.Event) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
