// Package producer publishes control-plane events onto the Kafka event bus read by
// cmd/worker.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"device-lock-control-plane/internal/telemetry/domain"
)

// Message headers set on every record.
const (
	HeaderEventType = "event-type"
	HeaderSource    = "source"
)

const writeTimeout = 5 * time.Second

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes events to one topic. Records are keyed by device so a device's
// reports keep their order within a partition; events without a device use the owner.
// A nil *KafkaSink is a valid no-op.
type KafkaSink struct {
	w     writer
	topic string
}

// NewKafkaSink returns a sink for topic, or nil when brokers or topic are unset.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	return &KafkaSink{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           50 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}
}

// Topic returns the destination topic.
func (s *KafkaSink) Topic() string {
	if s == nil {
		return ""
	}
	return s.topic
}

func (s *KafkaSink) Emit(ctx context.Context, event *domain.Event) error {
	if s == nil || event == nil {
		return nil
	}
	msg, err := record(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka %s: %w", s.topic, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	if s == nil {
		return nil
	}
	return s.w.Close()
}

func record(event *domain.Event) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s event: %w", event.EventType, err)
	}
	key := event.DeviceID
	if key == "" {
		key = event.OwnerID
	}
	msg := kafka.Message{
		Value: value,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(event.EventType)},
			{Key: HeaderSource, Value: []byte(event.Source)},
		},
	}
	if key != "" {
		msg.Key = []byte(key)
	}
	return msg, nil
}
