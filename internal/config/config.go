// Package config provides configuration management for greylookup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lvonguyen/greylookup/internal/greynoise"
)

var (
	// ErrMissingAPIKey is returned when the subscription tier is selected
	// without an API key.
	ErrMissingAPIKey = errors.New("subscription API requires an API key")

	// ErrTrailingSlash is returned when the base URL ends in "/".
	ErrTrailingSlash = errors.New("base URL must not end with a trailing slash")
)

// Config holds all greylookup configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	GreyNoise GreyNoiseConfig `yaml:"greynoise"`
	Lookup    LookupConfig    `yaml:"lookup"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxEntities     int           `yaml:"max_entities"`

	// TrustProxyHeaders lets X-Forwarded-For and X-Real-IP set the client
	// address. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	PoolSize    int    `yaml:"pool_size"`
}

// RateLimitConfig holds inbound rate limit settings.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	BurstSize         int `yaml:"burst_size"`
}

// GreyNoiseConfig holds upstream settings.
type GreyNoiseConfig struct {
	BaseURL         string                  `yaml:"base_url"`
	APIKeyEnv       string                  `yaml:"api_key_env"`
	SubscriptionAPI bool                    `yaml:"subscription_api"`
	UnifiedAPI      bool                    `yaml:"unified_api"`
	Request         greynoise.RequestConfig `yaml:"request"`
}

// LookupConfig holds result shaping and batching settings.
type LookupConfig struct {
	IgnoreNonSeen bool   `yaml:"ignore_non_seen"`
	IgnoreRFC1918 bool   `yaml:"ignore_rfc1918"`
	MaliciousOnly bool   `yaml:"malicious_only"`
	OnTransport   string `yaml:"on_transport_error"` // fail_batch, isolate
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Environment  string  `yaml:"environment"`
}

// Options are the per-batch lookup options.
type Options struct {
	APIKey          string
	BaseURL         string
	SubscriptionAPI bool
	UnifiedAPI      bool
	IgnoreNonSeen   bool
	IgnoreRFC1918   bool
	MaliciousOnly   bool
}

// Tier resolves which upstream tier the options select. Subscription wins
// over unified when both are set.
func (o Options) Tier() greynoise.Tier {
	switch {
	case o.SubscriptionAPI:
		return greynoise.TierSubscription
	case o.UnifiedAPI:
		return greynoise.TierUnified
	default:
		return greynoise.TierCommunity
	}
}

// Validate runs the pre-flight checks that must pass before any lookup.
func (o Options) Validate() error {
	if o.SubscriptionAPI && o.APIKey == "" {
		return ErrMissingAPIKey
	}
	if strings.HasSuffix(o.BaseURL, "/") {
		return fmt.Errorf("%w: %q", ErrTrailingSlash, o.BaseURL)
	}
	return nil
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxEntities:     1000,
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			BurstSize:         10,
		},
		GreyNoise: GreyNoiseConfig{
			BaseURL:   greynoise.DefaultBaseURL,
			APIKeyEnv: "GREYNOISE_API_KEY",
			Request:   greynoise.DefaultRequestConfig(),
		},
		Lookup: LookupConfig{
			OnTransport: "fail_batch",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			SamplingRate: 1.0,
			Environment:  "development",
		},
	}
}

// Options builds lookup options, reading the API key from the configured
// environment variable.
func (c *Config) Options() Options {
	var apiKey string
	if c.GreyNoise.APIKeyEnv != "" {
		apiKey = os.Getenv(c.GreyNoise.APIKeyEnv)
	}

	return Options{
		APIKey:          apiKey,
		BaseURL:         c.GreyNoise.BaseURL,
		SubscriptionAPI: c.GreyNoise.SubscriptionAPI,
		UnifiedAPI:      c.GreyNoise.UnifiedAPI,
		IgnoreNonSeen:   c.Lookup.IgnoreNonSeen,
		IgnoreRFC1918:   c.Lookup.IgnoreRFC1918,
		MaliciousOnly:   c.Lookup.MaliciousOnly,
	}
}

// RedisPassword returns the Redis password from the environment, if any.
func (c *Config) RedisPassword() string {
	if c.Redis.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(c.Redis.PasswordEnv)
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if err := c.Options().Validate(); err != nil {
		return err
	}
	switch c.Lookup.OnTransport {
	case "", "fail_batch", "isolate":
	default:
		return fmt.Errorf("unknown on_transport_error value: %q", c.Lookup.OnTransport)
	}
	return nil
}
