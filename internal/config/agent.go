package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Capability names accepted in AGENT_CAPABILITIES.
const (
	CapabilityOwnerPolicy   = "owner_policy"
	CapabilityAccessibility = "accessibility"
	CapabilityVPN           = "vpn"
)

// Agent holds device agent configuration. Values come from an optional YAML file and
// AGENT_* environment variables, which take precedence.
type Agent struct {
	ServerAddr string `mapstructure:"server_addr"`
	// StatePath is the SQLite file holding the device's lock state.
	StatePath    string        `mapstructure:"state_path"`
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// Device tokens are verified with either the shared secret or the server's public key.
	TokenSecret    string `mapstructure:"token_secret"`
	TokenPublicKey string `mapstructure:"token_public_key"`
	TokenIssuer    string `mapstructure:"token_issuer"`
	TokenAudience  string `mapstructure:"token_audience"`

	Capabilities []string `mapstructure:"capabilities"`
	// OwnerPolicyCommand and AccessibilityCommand are the OS hook programs for those backends.
	OwnerPolicyCommand   string `mapstructure:"owner_policy_command"`
	AccessibilityCommand string `mapstructure:"accessibility_command"`

	// TunName is the device-facing TUN interface; UplinkTunName carries allowed traffic onward.
	TunName       string `mapstructure:"tun_name"`
	UplinkTunName string `mapstructure:"uplink_tun_name"`

	MetricsAddr           string `mapstructure:"metrics_addr"`
	RevokeAfterRejections int    `mapstructure:"revoke_after_rejections"`
	Debug                 bool   `mapstructure:"debug"`
}

// LoadAgent reads the YAML file at path (skipped when path is empty or missing) and the
// AGENT_ environment, applies defaults and validates the result.
func LoadAgent(path string) (*Agent, error) {
	v := viper.New()
	v.SetEnvPrefix("AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server_addr", "localhost:8080")
	v.SetDefault("state_path", "agent.db")
	v.SetDefault("sync_interval", "5m")
	v.SetDefault("token_secret", "")
	v.SetDefault("token_public_key", "")
	v.SetDefault("token_issuer", "altrii")
	v.SetDefault("token_audience", "altrii-device")
	v.SetDefault("capabilities", CapabilityVPN)
	v.SetDefault("owner_policy_command", "")
	v.SetDefault("accessibility_command", "")
	v.SetDefault("tun_name", "")
	v.SetDefault("uplink_tun_name", "")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("revoke_after_rejections", 3)
	v.SetDefault("debug", false)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	var cfg Agent
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.Capabilities = normalizeCapabilities(cfg.Capabilities)

	if cfg.ServerAddr == "" {
		return nil, errors.New("config: AGENT_SERVER_ADDR must be set")
	}
	if cfg.StatePath == "" {
		return nil, errors.New("config: AGENT_STATE_PATH must be set")
	}
	if cfg.SyncInterval < time.Second {
		return nil, errors.New("config: AGENT_SYNC_INTERVAL must be at least 1s")
	}
	if cfg.TokenSecret == "" && cfg.TokenPublicKey == "" {
		return nil, errors.New("config: AGENT_TOKEN_SECRET or AGENT_TOKEN_PUBLIC_KEY must be set")
	}
	if cfg.RevokeAfterRejections < 1 {
		cfg.RevokeAfterRejections = 1
	}
	for _, c := range cfg.Capabilities {
		switch c {
		case CapabilityOwnerPolicy, CapabilityAccessibility, CapabilityVPN:
		default:
			return nil, errors.New("config: unknown capability " + c)
		}
	}
	return &cfg, nil
}

// HasCapability reports whether the named backend is enabled.
func (a *Agent) HasCapability(name string) bool {
	for _, c := range a.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// normalizeCapabilities accepts both a YAML list and a comma-separated env value.
func normalizeCapabilities(in []string) []string {
	var out []string
	for _, item := range in {
		for _, c := range splitList(item) {
			out = append(out, strings.ToLower(c))
		}
	}
	return out
}
