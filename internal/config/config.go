// Package config defines all configuration for the book mirror daemon.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via LOB_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Feed      FeedConfig      `mapstructure:"feed"`
	Symbols   []SymbolConfig  `mapstructure:"symbols"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// FeedConfig points at the upstream exchange feed and tunes its
// reconnect/liveness behavior.
type FeedConfig struct {
	WSURL       string        `mapstructure:"ws_url"`
	AuthToken   string        `mapstructure:"auth_token"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// SymbolConfig is one subscription entry: a symbol plus the channel set to
// subscribe it on. A symbol may not request both `full` (L3) and `level2`
// simultaneously — the normalized vocabulary assumes a single granularity
// of truth per symbol, and mixing the two would make book state depend on
// interleaving order that isn't well defined.
type SymbolConfig struct {
	Symbol   string   `mapstructure:"symbol"`
	Channels []string `mapstructure:"channels"`
	Depth    int      `mapstructure:"depth"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the downstream publishing API server (snapshot
// REST endpoint + websocket broadcast).
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// MetricsConfig controls the Prometheus /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: LOB_FEED_AUTH_TOKEN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("LOB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if token := os.Getenv("LOB_FEED_AUTH_TOKEN"); token != "" {
		cfg.Feed.AuthToken = token
	}

	if cfg.Feed.IdleTimeout == 0 {
		cfg.Feed.IdleTimeout = 10 * time.Second
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges, including the
// no-overlapping-L2-and-L3-channels-per-symbol rule.
func (c *Config) Validate() error {
	if c.Feed.WSURL == "" {
		return fmt.Errorf("feed.ws_url is required")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one entry in symbols is required")
	}
	seen := make(map[string]bool, len(c.Symbols))
	for i, s := range c.Symbols {
		if s.Symbol == "" {
			return fmt.Errorf("symbols[%d].symbol is required", i)
		}
		if seen[s.Symbol] {
			return fmt.Errorf("symbols[%d]: duplicate symbol %q", i, s.Symbol)
		}
		seen[s.Symbol] = true

		if len(s.Channels) == 0 {
			return fmt.Errorf("symbols[%d] (%s): at least one channel is required", i, s.Symbol)
		}
		hasL2, hasL3 := false, false
		for _, ch := range s.Channels {
			switch ch {
			case "level2":
				hasL2 = true
			case "full":
				hasL3 = true
			case "ticker", "heartbeat":
			default:
				return fmt.Errorf("symbols[%d] (%s): unrecognized channel %q", i, s.Symbol, ch)
			}
		}
		if hasL2 && hasL3 {
			return fmt.Errorf("symbols[%d] (%s): level2 and full cannot both be requested for the same symbol", i, s.Symbol)
		}
		if !hasL2 && !hasL3 {
			return fmt.Errorf("symbols[%d] (%s): must request level2 or full", i, s.Symbol)
		}
	}
	if c.Dashboard.Enabled && c.Dashboard.Port == 0 {
		return fmt.Errorf("dashboard.port is required when dashboard.enabled is true")
	}
	if c.Metrics.Enabled && c.Metrics.Port == 0 {
		return fmt.Errorf("metrics.port is required when metrics.enabled is true")
	}
	return nil
}
