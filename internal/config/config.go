// Package config provides configuration management for the risk engine
// and its dashboard API.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	// defaultMaxParallelAccounts caps the per-account snapshot worker
	// pool when valuation.max_parallel_accounts is unset.
	defaultMaxParallelAccounts = 10
	// defaultBrokerTimeout bounds each broker call within a pass.
	defaultBrokerTimeout = 10 * time.Second
	// defaultRateLimitPerMin matches the broker's per-connection limit.
	defaultRateLimitPerMin = 120
	// defaultUnderlying is assumed when a bot name matches no known ticker.
	defaultUnderlying = "SPX"
)

// defaultKnownUnderlyings is the ticker set bot names are matched
// against when inferring a position's underlying.
var defaultKnownUnderlyings = []string{"SPXW", "SPX", "XSP", "NDX", "SPY", "QQQ", "IWM", "RUT"}

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Valuation   ValuationConfig   `yaml:"valuation"`
}

// EnvironmentConfig defines the runtime environment settings.
type EnvironmentConfig struct {
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings.
type BrokerConfig struct {
	BaseURL         string `yaml:"base_url"`
	AccessToken     string `yaml:"access_token"`
	Timeout         string `yaml:"timeout"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// ServerConfig defines the dashboard API settings.
type ServerConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// DatabaseConfig defines the order-ledger database location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ValuationConfig defines valuation pass parameters.
type ValuationConfig struct {
	MaxParallelAccounts int      `yaml:"max_parallel_accounts"`
	BrokerTimeout       string   `yaml:"broker_timeout"`
	KnownUnderlyings    []string `yaml:"known_underlyings"`
	DefaultUnderlying   string   `yaml:"default_underlying"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	switch c.Environment.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of debug, info, warn, error")
	}

	if c.Broker.AccessToken == "" {
		return fmt.Errorf("broker.access_token is required")
	}
	if _, err := time.ParseDuration(c.Broker.Timeout); err != nil {
		return fmt.Errorf("broker.timeout invalid: %w", err)
	}
	if c.Broker.RateLimitPerMin <= 0 {
		return fmt.Errorf("broker.rate_limit_per_min must be > 0")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0,65535]")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Valuation.MaxParallelAccounts <= 0 {
		return fmt.Errorf("valuation.max_parallel_accounts must be > 0")
	}
	if _, err := time.ParseDuration(c.Valuation.BrokerTimeout); err != nil {
		return fmt.Errorf("valuation.broker_timeout invalid: %w", err)
	}
	if c.Valuation.DefaultUnderlying == "" {
		return fmt.Errorf("valuation.default_underlying is required")
	}

	return nil
}

// normalize fills unset fields with defaults before validation.
func (c *Config) normalize() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Broker.Timeout == "" {
		c.Broker.Timeout = defaultBrokerTimeout.String()
	}
	if c.Broker.RateLimitPerMin == 0 {
		c.Broker.RateLimitPerMin = defaultRateLimitPerMin
	}
	if c.Valuation.MaxParallelAccounts == 0 {
		c.Valuation.MaxParallelAccounts = defaultMaxParallelAccounts
	}
	if c.Valuation.BrokerTimeout == "" {
		c.Valuation.BrokerTimeout = defaultBrokerTimeout.String()
	}
	if len(c.Valuation.KnownUnderlyings) == 0 {
		c.Valuation.KnownUnderlyings = append([]string(nil), defaultKnownUnderlyings...)
	}
	if c.Valuation.DefaultUnderlying == "" {
		c.Valuation.DefaultUnderlying = defaultUnderlying
	}
}

// GetBrokerTimeout returns the configured broker HTTP timeout.
func (c *Config) GetBrokerTimeout() time.Duration {
	d, err := time.ParseDuration(c.Broker.Timeout)
	if err != nil {
		return defaultBrokerTimeout
	}
	return d
}

// GetValuationTimeout returns the per-broker-call timeout for a
// valuation pass.
func (c *Config) GetValuationTimeout() time.Duration {
	d, err := time.ParseDuration(c.Valuation.BrokerTimeout)
	if err != nil {
		return defaultBrokerTimeout
	}
	return d
}
