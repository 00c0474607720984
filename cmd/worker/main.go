// Worker relays control-plane events from Kafka into Loki. It needs KAFKA_BROKERS and
// LOKI_URL; TELEMETRY_KAFKA_TOPIC, KAFKA_GROUP_ID and WORKER_SKIP_EVENT_TYPES have defaults.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"device-lock-control-plane/internal/config"
	"device-lock-control-plane/internal/logging"
	"device-lock-control-plane/internal/telemetry/loki"
	"device-lock-control-plane/internal/telemetry/relay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Env == "development")
	defer func() { _ = logger.Sync() }()

	brokers := cfg.TelemetryKafkaBrokersList()
	if len(brokers) == 0 {
		logger.Fatal("KAFKA_BROKERS is required")
	}
	sink, err := loki.NewClient(cfg.LokiURL, nil)
	if err != nil {
		logger.Fatal("loki client (set LOKI_URL)", zap.Error(err))
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       cfg.TelemetryKafkaTopic,
		GroupID:     cfg.KafkaGroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	skip := cfg.WorkerSkipEventTypesList()
	logger.Info("relaying events",
		zap.String("topic", cfg.TelemetryKafkaTopic),
		zap.String("group", cfg.KafkaGroupID),
		zap.String("loki", cfg.LokiURL),
		zap.Strings("skip", skip),
	)
	if err := relay.New(reader, sink, logger, skip...).Run(ctx); err != nil {
		logger.Fatal("relay", zap.Error(err))
	}
	logger.Info("worker stopped")
}
