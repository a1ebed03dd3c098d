// Package config provides configuration management for the session and
// signal service.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Defaults used when the corresponding fields are unset.
const (
	defaultTickInterval  = 2 * time.Second
	defaultSweepInterval = 5 * time.Minute
	defaultIdleTimeout   = time.Hour
	defaultThreshold     = 20.0
	defaultStrikeCount   = 40
	defaultListenAddr    = ":8080"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Server      ServerConfig      `yaml:"server"`
	Broker      BrokerConfig      `yaml:"broker"`
	Engine      EngineConfig      `yaml:"engine"`
	Sessions    SessionConfig     `yaml:"sessions"`
	Storage     StorageConfig     `yaml:"storage"`
	Orders      OrdersConfig      `yaml:"orders"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// ServerConfig defines the HTTP API settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// BrokerConfig defines brokerage API settings. Per-user access tokens are
// linked at runtime; this only carries the endpoint.
type BrokerConfig struct {
	APIEndpoint string `yaml:"api_endpoint"`
}

// EngineConfig defines the polling worker parameters.
type EngineConfig struct {
	TickInterval    string            `yaml:"tick_interval"`    // e.g. "2s"
	SignalThreshold float64           `yaml:"signal_threshold"` // price units over baseline
	StrikeCount     int               `yaml:"strike_count"`
	SymbolPrefix    string            `yaml:"symbol_prefix"` // default contract prefix
	Underlying      string            `yaml:"underlying"`    // default chain symbol
	SymbolMap       map[string]string `yaml:"symbol_map"`    // index name -> chain symbol
}

// SessionConfig defines session lifetime handling.
type SessionConfig struct {
	SweepInterval string `yaml:"sweep_interval"` // e.g. "5m"
	IdleTimeout   string `yaml:"idle_timeout"`   // e.g. "1h"
}

// StorageConfig defines where the durable tables live.
type StorageConfig struct {
	UsersPath    string `yaml:"users_path"`
	SessionsPath string `yaml:"sessions_path"`
}

// OrdersConfig defines order normalization settings.
type OrdersConfig struct {
	Quantity    int     `yaml:"quantity"`
	ProductType string  `yaml:"product_type"`
	TickSize    float64 `yaml:"tick_size"`
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

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}
	if c.Environment.Mode == "live" && c.Broker.APIEndpoint == "" {
		return fmt.Errorf("broker.api_endpoint is required in live mode")
	}

	if c.Engine.SignalThreshold < 0 {
		return fmt.Errorf("engine.signal_threshold must be >= 0")
	}
	if c.Engine.StrikeCount < 0 {
		return fmt.Errorf("engine.strike_count must be >= 0")
	}
	if _, err := c.TickInterval(); err != nil {
		return fmt.Errorf("engine.tick_interval: %w", err)
	}
	if _, err := c.SweepInterval(); err != nil {
		return fmt.Errorf("sessions.sweep_interval: %w", err)
	}
	if _, err := c.IdleTimeout(); err != nil {
		return fmt.Errorf("sessions.idle_timeout: %w", err)
	}

	if c.Storage.UsersPath == "" {
		return fmt.Errorf("storage.users_path is required")
	}
	if c.Storage.SessionsPath == "" {
		return fmt.Errorf("storage.sessions_path is required")
	}
	if c.Orders.Quantity < 0 {
		return fmt.Errorf("orders.quantity must be >= 0")
	}
	return nil
}

// IsPaperTrading reports whether the service runs against the synthetic
// brokerage.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// ListenAddr returns the HTTP listen address with its default applied.
func (c *Config) ListenAddr() string {
	if c.Server.ListenAddr == "" {
		return defaultListenAddr
	}
	return c.Server.ListenAddr
}

// TickInterval returns the parsed polling cadence.
func (c *Config) TickInterval() (time.Duration, error) {
	return parseDuration(c.Engine.TickInterval, defaultTickInterval)
}

// SweepInterval returns the parsed sweeper cadence.
func (c *Config) SweepInterval() (time.Duration, error) {
	return parseDuration(c.Sessions.SweepInterval, defaultSweepInterval)
}

// IdleTimeout returns the parsed session idle timeout.
func (c *Config) IdleTimeout() (time.Duration, error) {
	return parseDuration(c.Sessions.IdleTimeout, defaultIdleTimeout)
}

// SignalThreshold returns the threshold with its default applied.
func (c *Config) SignalThreshold() float64 {
	if c.Engine.SignalThreshold == 0 {
		return defaultThreshold
	}
	return c.Engine.SignalThreshold
}

// StrikeCount returns the strike window with its default applied.
func (c *Config) StrikeCount() int {
	if c.Engine.StrikeCount == 0 {
		return defaultStrikeCount
	}
	return c.Engine.StrikeCount
}

func parseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", raw)
	}
	return d, nil
}
