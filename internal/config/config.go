package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultRelays are used when the configuration does not list any relays
var DefaultRelays = []string{
	"wss://no.str.cr",
	"wss://nostr.bitcoiner.social",
	"wss://relay.snort.social",
	"wss://relay.damus.io",
}

// Config represents the application configuration
type Config struct {
	Relays          []string           `yaml:"relays"`
	Subscription    SubscriptionConfig `yaml:"subscription"`
	Window          Duration           `yaml:"window"` // Collection window, overridden by the positional argument
	Connection      ConnectionConfig   `yaml:"connection"`
	Database        DatabaseConfig     `yaml:"database"`
	Log             LogConfig          `yaml:"log"`
	Status          StatusConfig       `yaml:"status"`
	EventBus        EventBusConfig     `yaml:"eventbus"`
	ShutdownTimeout Duration           `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// SubscriptionConfig describes the filter sent to every relay
type SubscriptionConfig struct {
	Lookback Duration `yaml:"lookback"` // How far back "since" reaches (default: 90 days)
	Kinds    []int    `yaml:"kinds"`    // Optional kind filter, empty = all kinds
	Limit    int      `yaml:"limit"`    // Optional per-relay limit of stored events, 0 = relay default
}

// ConnectionConfig contains relay connection settings
type ConnectionConfig struct {
	DialTimeout Duration `yaml:"dial_timeout"`  // Timeout for a single websocket handshake
	DialRateRPS float64  `yaml:"dial_rate_rps"` // Dial attempts per second across all relays

	// Reconnect settings
	MinRetryBackoff Duration `yaml:"min_retry_backoff"` // Minimum backoff between reconnects (default: 1s)
	MaxRetryBackoff Duration `yaml:"max_retry_backoff"` // Maximum backoff between reconnects (default: 30s)
	RetryMultiplier float64  `yaml:"retry_multiplier"`  // Backoff multiplier (default: 2.0)
	MaxReconnects   int      `yaml:"max_reconnects"`    // Max reconnect attempts, 0 = infinite (default: 0)
}

// DatabaseConfig contains history database settings
type DatabaseConfig struct {
	Path          string `yaml:"path"`           // Empty disables run history
	RetentionDays int    `yaml:"retention_days"` // 0 keeps history forever
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// StatusConfig contains status HTTP server settings
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// GetHost returns host with default
func (c *StatusConfig) GetHost() string {
	if c.Host == "" {
		return "127.0.0.1"
	}
	return c.Host
}

// GetPort returns port with default
func (c *StatusConfig) GetPort() int {
	if c.Port == 0 {
		return 9090
	}
	return c.Port
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 2)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 2
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// GetShutdownTimeout returns the shutdown timeout as time.Duration
func (c *Config) GetShutdownTimeout() time.Duration {
	return c.ShutdownTimeout.Duration()
}

// Duration is a wrapper around time.Duration for YAML unmarshalling.
// Besides time.ParseDuration syntax it accepts a "d" suffix for days.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// ParseDuration parses a Go duration string, or a whole number of days like "90d".
func ParseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid day duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// Default returns a configuration with all defaults applied
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load reads and parses the configuration file.
// An empty path yields the default configuration.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if len(cfg.Relays) == 0 {
		cfg.Relays = append([]string(nil), DefaultRelays...)
	}
	if cfg.Window == 0 {
		cfg.Window = Duration(60 * time.Second)
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// Subscription defaults
	if cfg.Subscription.Lookback == 0 {
		cfg.Subscription.Lookback = Duration(90 * 24 * time.Hour)
	}

	// Connection defaults
	if cfg.Connection.DialTimeout == 0 {
		cfg.Connection.DialTimeout = Duration(10 * time.Second)
	}
	if cfg.Connection.DialRateRPS == 0 {
		cfg.Connection.DialRateRPS = 4.0
	}
	if cfg.Connection.MinRetryBackoff == 0 {
		cfg.Connection.MinRetryBackoff = Duration(1 * time.Second)
	}
	if cfg.Connection.MaxRetryBackoff == 0 {
		cfg.Connection.MaxRetryBackoff = Duration(30 * time.Second)
	}
	if cfg.Connection.RetryMultiplier == 0 {
		cfg.Connection.RetryMultiplier = 2.0
	}
	// MaxReconnects defaults to 0 (infinite), no need to set

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks values that defaults cannot repair
func (cfg *Config) Validate() error {
	for _, raw := range cfg.Relays {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid relay url %q: %w", raw, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("invalid relay url %q: scheme must be ws or wss", raw)
		}
		if u.Host == "" {
			return fmt.Errorf("invalid relay url %q: missing host", raw)
		}
	}
	for _, k := range cfg.Subscription.Kinds {
		if k < 0 {
			return fmt.Errorf("invalid subscription kind %d", k)
		}
	}
	if cfg.Connection.RetryMultiplier < 1 {
		return fmt.Errorf("retry_multiplier must be >= 1, got %v", cfg.Connection.RetryMultiplier)
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
