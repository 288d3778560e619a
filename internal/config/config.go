// ABOUTME: Configuration loading and parsing for timecard-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied to unset fields.
const (
	DefaultMaxOpenConns      = 25
	DefaultAcquireTimeout    = 30 * time.Second
	DefaultWebhookTimeout    = 5 * time.Second
	DefaultReservationOffset = 9 * time.Hour
	DefaultPendingWindow     = time.Hour
	DefaultSubscriberBuffer  = 1024
	DefaultSendBuffer        = 256
	DefaultDriverCacheSize   = 1024
	DefaultDriverCacheTTL    = 5 * time.Minute
	DefaultMetricsPath       = "/metrics"

	minJWTSecretLen = 32
)

// Config represents the complete timecard-gateway configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" toml:"server"`
	Tailscale    TailscaleConfig    `yaml:"tailscale" toml:"tailscale"`
	Database     DatabaseConfig     `yaml:"database" toml:"database"`
	Auth         AuthConfig         `yaml:"auth" toml:"auth"`
	Webhook      WebhookConfig      `yaml:"webhook" toml:"webhook"`
	Registration RegistrationConfig `yaml:"registration" toml:"registration"`
	Relay        RelayConfig        `yaml:"relay" toml:"relay"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`

	// TLS for the HTTP listener (device sockets, health, metrics)
	TLSCertFile string `yaml:"tls_cert_file" toml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file" toml:"tls_key_file"`

	// AllowedOrigins restricts browser origins on /socket; empty allows all
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"` // serve HTTP on :443 with tailnet certs
}

// DatabaseConfig holds the store path and connection pool bounds
type DatabaseConfig struct {
	Path           string        `yaml:"path" toml:"path"`
	MaxOpenConns   int           `yaml:"max_open_conns" toml:"max_open_conns"`
	AcquireTimeout time.Duration `yaml:"-" toml:"-"`

	AcquireTimeoutRaw string `yaml:"acquire_timeout" toml:"acquire_timeout"`
}

// AuthConfig holds control API authentication. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// WebhookConfig holds the external webhook sink. An empty URL disables it.
type WebhookConfig struct {
	URL     string        `yaml:"url" toml:"url"`
	Timeout time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// RegistrationConfig holds card registration timing
type RegistrationConfig struct {
	// ReservationOffset is added to now when a reservation is stored.
	ReservationOffset time.Duration `yaml:"-" toml:"-"`
	// PendingWindow is how far back ListPending looks by default.
	PendingWindow time.Duration `yaml:"-" toml:"-"`

	ReservationOffsetRaw string `yaml:"reservation_offset" toml:"reservation_offset"`
	PendingWindowRaw     string `yaml:"pending_window" toml:"pending_window"`
}

// RelayConfig holds fan-out buffer sizes and the driver-name cache
type RelayConfig struct {
	SubscriberBuffer int           `yaml:"subscriber_buffer" toml:"subscriber_buffer"`
	SendBuffer       int           `yaml:"send_buffer" toml:"send_buffer"`
	DriverCacheSize  int           `yaml:"driver_cache_size" toml:"driver_cache_size"`
	DriverCacheTTL   time.Duration `yaml:"-" toml:"-"`

	DriverCacheTTLRaw string `yaml:"driver_cache_ttl" toml:"driver_cache_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Path        string `yaml:"path" toml:"path"`
	RequireAuth bool   `yaml:"require_auth" toml:"require_auth"`
}

// DefaultPath returns the config file location.
// Priority: TIMECARD_CONFIG > XDG_CONFIG_HOME/timecard/gateway.yaml > ~/.config/timecard/gateway.yaml
func DefaultPath() string {
	if envPath := os.Getenv("TIMECARD_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "timecard", "gateway.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
}

// Parse decodes raw config text. It expands environment variables, parses
// durations, fills defaults and validates.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := []byte(expandEnvVars(string(data)))

	var cfg Config
	if isTOML {
		if err := toml.Unmarshal(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the environment value, or "" when unset.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = DefaultMaxOpenConns
	}
	if c.Database.AcquireTimeout == 0 {
		c.Database.AcquireTimeout = DefaultAcquireTimeout
	}
	if c.Webhook.Timeout == 0 {
		c.Webhook.Timeout = DefaultWebhookTimeout
	}
	// an explicit "0s" keeps reservations at the current time
	if c.Registration.ReservationOffsetRaw == "" {
		c.Registration.ReservationOffset = DefaultReservationOffset
	}
	if c.Registration.PendingWindow == 0 {
		c.Registration.PendingWindow = DefaultPendingWindow
	}
	if c.Relay.SubscriberBuffer == 0 {
		c.Relay.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if c.Relay.SendBuffer == 0 {
		c.Relay.SendBuffer = DefaultSendBuffer
	}
	if c.Relay.DriverCacheSize == 0 {
		c.Relay.DriverCacheSize = DefaultDriverCacheSize
	}
	if c.Relay.DriverCacheTTL == 0 {
		c.Relay.DriverCacheTTL = DefaultDriverCacheTTL
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled {
		if c.Server.GRPCAddr == "" {
			return errors.New("server.grpc_addr is required (or enable tailscale)")
		}
		if c.Server.HTTPAddr == "" {
			return errors.New("server.http_addr is required (or enable tailscale)")
		}
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return errors.New("tailscale.hostname is required when tailscale is enabled")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return errors.New("server.tls_cert_file and server.tls_key_file must be set together")
	}

	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database.max_open_conns must be positive, got %d", c.Database.MaxOpenConns)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < minJWTSecretLen {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minJWTSecretLen)
	}
	if c.Metrics.RequireAuth && c.Auth.JWTSecret == "" {
		return errors.New("metrics.require_auth needs auth.jwt_secret")
	}

	if c.Webhook.URL != "" && !strings.HasPrefix(c.Webhook.URL, "http://") && !strings.HasPrefix(c.Webhook.URL, "https://") {
		return fmt.Errorf("webhook.url must be http or https, got %q", c.Webhook.URL)
	}
	if c.Registration.PendingWindow < 0 {
		return errors.New("registration.pending_window must not be negative")
	}
	if c.Relay.SubscriberBuffer < 0 || c.Relay.SendBuffer < 0 || c.Relay.DriverCacheSize < 0 {
		return errors.New("relay buffer and cache sizes must not be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"database.acquire_timeout", cfg.Database.AcquireTimeoutRaw, &cfg.Database.AcquireTimeout},
		{"webhook.timeout", cfg.Webhook.TimeoutRaw, &cfg.Webhook.Timeout},
		{"registration.reservation_offset", cfg.Registration.ReservationOffsetRaw, &cfg.Registration.ReservationOffset},
		{"registration.pending_window", cfg.Registration.PendingWindowRaw, &cfg.Registration.PendingWindow},
		{"relay.driver_cache_ttl", cfg.Relay.DriverCacheTTLRaw, &cfg.Relay.DriverCacheTTL},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
