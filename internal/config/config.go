// Package config provides configuration management for the strategy matcher service.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Defaults applied by Validate when a field is left unset.
const (
	defaultStoragePath    = "data/book.json"
	defaultDashboardPort  = 8080
	defaultFillBuffer     = 64
	defaultSyncInterval   = 5 * time.Minute
	defaultCallTimeout    = 10 * time.Second
	defaultEquityRate     = 0.5
	defaultNakedRate      = 0.2
	defaultNakedMinRate   = 0.1
	defaultBrokerProvider = ProviderTradier
)

// Supported broker providers.
const (
	ProviderTradier = "tradier"
	ProviderMock    = "mock" // synthetic book and quotes
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Matcher     MatcherConfig     `yaml:"matcher"`
	Margin      MarginConfig      `yaml:"margin"`
	Storage     StorageConfig     `yaml:"storage"`
	Broker      BrokerConfig      `yaml:"broker"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Fills       FillsConfig       `yaml:"fills"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	LogLevel  string `yaml:"log_level"`  // debug | info | warn | error
	LogFormat string `yaml:"log_format"` // text | json
}

// MatcherConfig defines the strategy search settings.
type MatcherConfig struct {
	// Parallelism bounds concurrent per-underlying searches. 0 or 1 is sequential.
	Parallelism int `yaml:"parallelism"`
	// CatalogPath overrides the embedded default strategy catalog.
	CatalogPath string `yaml:"catalog_path"`
}

// MarginConfig defines the reference margin model and static prices.
type MarginConfig struct {
	EquityRate   float64            `yaml:"equity_rate"`
	NakedRate    float64            `yaml:"naked_rate"`
	NakedMinRate float64            `yaml:"naked_min_rate"`
	Prices       map[string]float64 `yaml:"prices"` // underlying -> reference price
	CallTimeout  string             `yaml:"call_timeout"`
}

// StorageConfig defines storage settings for the position book.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// BrokerConfig defines broker API settings. The broker is optional; when
// disabled the book is driven by fills only and prices come from margin.prices.
type BrokerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Provider     string        `yaml:"provider"` // tradier | mock
	APIKey       string        `yaml:"api_key"`
	APIEndpoint  string        `yaml:"api_endpoint"`
	AccountID    string        `yaml:"account_id"`
	Sandbox      bool          `yaml:"sandbox"`
	SyncInterval string        `yaml:"sync_interval"`
	Breaker      BreakerConfig `yaml:"breaker"`
	Retry        RetryConfig   `yaml:"retry"`
}

// BreakerConfig mirrors the broker circuit breaker settings.
type BreakerConfig struct {
	MaxRequests  uint32  `yaml:"max_requests"`
	Interval     string  `yaml:"interval"`
	Timeout      string  `yaml:"timeout"`
	MinRequests  uint32  `yaml:"min_requests"`
	FailureRatio float64 `yaml:"failure_ratio"`
}

// RetryConfig defines snapshot retry behaviour.
type RetryConfig struct {
	MaxRetries     int    `yaml:"max_retries"`
	InitialBackoff string `yaml:"initial_backoff"`
	MaxBackoff     string `yaml:"max_backoff"`
}

// DashboardConfig defines the HTTP API settings.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// FillsConfig defines the fill queue.
type FillsConfig struct {
	Buffer int `yaml:"buffer"`
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

	return Parse(data)
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate normalizes defaults and checks that all values are consistent.
func (c *Config) Validate() error {
	c.normalize()

	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of debug, info, warn, error")
	}
	if c.Environment.LogFormat != "text" && c.Environment.LogFormat != "json" {
		return fmt.Errorf("environment.log_format must be 'text' or 'json'")
	}

	if c.Matcher.Parallelism < 0 {
		return fmt.Errorf("matcher.parallelism must be >= 0")
	}

	if err := rate("margin.equity_rate", c.Margin.EquityRate); err != nil {
		return err
	}
	if err := rate("margin.naked_rate", c.Margin.NakedRate); err != nil {
		return err
	}
	if err := rate("margin.naked_min_rate", c.Margin.NakedMinRate); err != nil {
		return err
	}
	if c.Margin.NakedMinRate > c.Margin.NakedRate {
		return fmt.Errorf("margin.naked_min_rate (%.2f) must be <= margin.naked_rate (%.2f)",
			c.Margin.NakedMinRate, c.Margin.NakedRate)
	}
	for underlying, price := range c.Margin.Prices {
		if strings.TrimSpace(underlying) == "" {
			return fmt.Errorf("margin.prices has an empty underlying")
		}
		if price <= 0 {
			return fmt.Errorf("margin.prices[%s] must be > 0", underlying)
		}
	}
	if _, err := time.ParseDuration(c.Margin.CallTimeout); err != nil {
		return fmt.Errorf("margin.call_timeout invalid: %w", err)
	}

	if c.Broker.Enabled {
		switch c.Broker.Provider {
		case ProviderTradier:
			if c.Broker.APIKey == "" {
				return fmt.Errorf("broker.api_key is required when broker.enabled")
			}
			if c.Broker.AccountID == "" {
				return fmt.Errorf("broker.account_id is required when broker.enabled")
			}
		case ProviderMock:
		default:
			return fmt.Errorf("broker.provider %q is not supported", c.Broker.Provider)
		}
		for name, value := range map[string]string{
			"broker.sync_interval":         c.Broker.SyncInterval,
			"broker.breaker.interval":      c.Broker.Breaker.Interval,
			"broker.breaker.timeout":       c.Broker.Breaker.Timeout,
			"broker.retry.initial_backoff": c.Broker.Retry.InitialBackoff,
			"broker.retry.max_backoff":     c.Broker.Retry.MaxBackoff,
		} {
			if value == "" {
				continue
			}
			if d, err := time.ParseDuration(value); err != nil || d <= 0 {
				return fmt.Errorf("%s must be a positive duration, got %q", name, value)
			}
		}
		if c.Broker.Breaker.FailureRatio < 0 || c.Broker.Breaker.FailureRatio > 1 {
			return fmt.Errorf("broker.breaker.failure_ratio must be between 0 and 1")
		}
		if c.Broker.Retry.MaxRetries < 0 {
			return fmt.Errorf("broker.retry.max_retries must be >= 0")
		}
	}

	if c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port must be between 1 and 65535")
	}

	if c.Fills.Buffer <= 0 {
		return fmt.Errorf("fills.buffer must be > 0")
	}

	return nil
}

// GetSyncInterval returns the broker resync interval.
func (c *Config) GetSyncInterval() time.Duration {
	return Duration(c.Broker.SyncInterval, defaultSyncInterval)
}

// GetCallTimeout returns the timeout for one pricing or snapshot call.
func (c *Config) GetCallTimeout() time.Duration {
	return Duration(c.Margin.CallTimeout, defaultCallTimeout)
}

func (c *Config) normalize() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Environment.LogFormat == "" {
		c.Environment.LogFormat = "text"
	}
	if c.Margin.EquityRate == 0 {
		c.Margin.EquityRate = defaultEquityRate
	}
	if c.Margin.NakedRate == 0 {
		c.Margin.NakedRate = defaultNakedRate
	}
	if c.Margin.NakedMinRate == 0 {
		c.Margin.NakedMinRate = defaultNakedMinRate
	}
	if c.Margin.CallTimeout == "" {
		c.Margin.CallTimeout = defaultCallTimeout.String()
	}
	if len(c.Margin.Prices) > 0 {
		prices := make(map[string]float64, len(c.Margin.Prices))
		for k, v := range c.Margin.Prices {
			prices[strings.ToUpper(strings.TrimSpace(k))] = v
		}
		c.Margin.Prices = prices
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath
	}
	if c.Broker.Provider == "" {
		c.Broker.Provider = defaultBrokerProvider
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = defaultDashboardPort
	}
	if c.Fills.Buffer == 0 {
		c.Fills.Buffer = defaultFillBuffer
	}
}

func rate(name string, v float64) error {
	if v <= 0 || v > 1 {
		return fmt.Errorf("%s must be in (0,1], got %.4f", name, v)
	}
	return nil
}

// Duration parses value, returning fallback when it is empty, invalid or not positive.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
