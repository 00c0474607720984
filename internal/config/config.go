// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MaxLockCeiling is the largest MAX_LOCK_DURATION an operator may configure.
const MaxLockCeiling = 30 * 24 * time.Hour

// Config holds control plane configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty runs the server on in-memory stores.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// TokenSecret selects HS256 for device tokens (at least 32 bytes).
	TokenSecret string `mapstructure:"TOKEN_SECRET"`
	// TokenPrivateKey is the PEM private key (or path) for RS256/ES256 device tokens.
	TokenPrivateKey string `mapstructure:"TOKEN_PRIVATE_KEY"`
	// TokenPublicKey is the matching PEM public key (or path). Optional when the private key is set.
	TokenPublicKey string `mapstructure:"TOKEN_PUBLIC_KEY"`
	// TokenIssuer is the iss claim on device tokens.
	TokenIssuer string `mapstructure:"TOKEN_ISSUER"`
	// TokenAudience is the aud claim device agents expect (e.g. "altrii-device").
	TokenAudience string `mapstructure:"TOKEN_AUDIENCE"`
	// ProvisionTTL is the provisioning token lifetime; capped at 15m by the token codec.
	ProvisionTTL time.Duration `mapstructure:"PROVISION_TTL"`
	// MaxLockDuration is the longest lock an owner may issue (default 7 days, at most 30 days).
	MaxLockDuration time.Duration `mapstructure:"MAX_LOCK_DURATION"`
	// LockPolicyPath optionally points to a Rego module replacing the built-in lock-issuance policy.
	LockPolicyPath string `mapstructure:"LOCK_POLICY_PATH"`

	// Owner access tokens are minted by the account service; the server only verifies them.
	JWTSecret     string `mapstructure:"JWT_SECRET"`
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	JWTPublicKey  string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer     string `mapstructure:"JWT_ISSUER"`
	JWTAudience   string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is used by the dev seed when it mints an owner token.
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// OTelEndpoint is the OTLP collector endpoint (e.g. http://localhost:4317). Empty disables export.
	OTelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTelInsecure forces plaintext gRPC to the collector even for https endpoints.
	OTelInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// Telemetry (optional). When Kafka brokers are set, device state reports are emitted to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for device events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the telemetry worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the telemetry worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// WorkerSkipEventTypes lists event types the worker commits without pushing to Loki.
	WorkerSkipEventTypes string `mapstructure:"WORKER_SKIP_EVENT_TYPES"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("TOKEN_SECRET", "")
	v.SetDefault("TOKEN_PRIVATE_KEY", "")
	v.SetDefault("TOKEN_PUBLIC_KEY", "")
	v.SetDefault("TOKEN_ISSUER", "altrii")
	v.SetDefault("TOKEN_AUDIENCE", "altrii-device")
	v.SetDefault("PROVISION_TTL", "10m")
	v.SetDefault("MAX_LOCK_DURATION", "168h")
	v.SetDefault("LOCK_POLICY_PATH", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "altrii-auth")
	v.SetDefault("JWT_AUDIENCE", "altrii-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "altrii-device-events")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "altrii-telemetry-worker")
	v.SetDefault("WORKER_SKIP_EVENT_TYPES", "grpc_request")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}
	if cfg.MaxLockDuration <= 0 || cfg.MaxLockDuration > MaxLockCeiling {
		return nil, errors.New("config: MAX_LOCK_DURATION must be positive and at most 720h")
	}
	if cfg.ProvisionTTL <= 0 {
		return nil, errors.New("config: PROVISION_TTL must be positive")
	}
	if cfg.TokenAudience == "" {
		return nil, errors.New("config: TOKEN_AUDIENCE must be set")
	}
	if cfg.Env == "production" && cfg.TokenSecret == "" && cfg.TokenPrivateKey == "" {
		return nil, errors.New("config: TOKEN_SECRET or TOKEN_PRIVATE_KEY must be set when APP_ENV=production")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// MaxLockMinutes returns MaxLockDuration in whole minutes.
func (c *Config) MaxLockMinutes() int {
	return int(c.MaxLockDuration / time.Minute)
}

// WorkerSkipEventTypesList returns the event types the worker does not push.
func (c *Config) WorkerSkipEventTypesList() []string {
	return splitList(c.WorkerSkipEventTypes)
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.TelemetryKafkaBrokers)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
