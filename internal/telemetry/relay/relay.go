// Package relay moves control-plane events from the Kafka bus into Loki.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"device-lock-control-plane/internal/logging"
	"device-lock-control-plane/internal/telemetry/producer"
)

const (
	pushTimeout  = 10 * time.Second
	retryBackoff = time.Second
)

// Reader is the consumer side of the bus. *kafka.Reader implements it.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Sink receives the raw JSON value of each event. *loki.Client implements it.
type Sink interface {
	PushEventJSON(ctx context.Context, raw []byte) error
}

// Relay copies events from a Reader to a Sink. An offset is committed once the sink has
// taken the event, or once the event is skipped.
type Relay struct {
	reader Reader
	sink   Sink
	skip   map[string]bool
	logger *zap.Logger
}

// New returns a Relay. Events whose event-type header is in skipTypes are committed
// without being pushed.
func New(r Reader, s Sink, logger *zap.Logger, skipTypes ...string) *Relay {
	skip := make(map[string]bool, len(skipTypes))
	for _, t := range skipTypes {
		skip[t] = true
	}
	return &Relay{reader: r, sink: s, skip: skip, logger: logging.OrNop(logger)}
}

// Run relays until ctx ends. A failed push is logged and the event committed so one bad
// record cannot stall the partition.
func (r *Relay) Run(ctx context.Context) error {
	for {
		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("kafka fetch failed", zap.Error(err))
			if !sleep(ctx, retryBackoff) {
				return nil
			}
			continue
		}
		r.forward(ctx, msg)
		if err := r.reader.CommitMessages(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("kafka commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (r *Relay) forward(ctx context.Context, msg kafka.Message) {
	eventType := headerValue(msg, producer.HeaderEventType)
	if r.skip[eventType] {
		return
	}
	pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()
	if err := r.sink.PushEventJSON(pushCtx, msg.Value); err != nil {
		r.logger.Warn("loki push failed",
			zap.String("key", string(msg.Key)),
			zap.String("event_type", eventType),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
	}
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
