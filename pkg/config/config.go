// Package config loads the load balancer's configuration from an optional
// YAML file with environment-variable overrides; env always wins over YAML,
// which always wins over the built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v9"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the load balancer.
type Config struct {
	ListenAddr  string `yaml:"listen_addr" env:"LB_LISTEN_ADDR"`
	MetricsAddr string `yaml:"metrics_addr" env:"LB_METRICS_ADDR"`

	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"LB_HEALTH_CHECK_INTERVAL"`
	ProbeDialTimeout    time.Duration `yaml:"probe_dial_timeout" env:"LB_PROBE_DIAL_TIMEOUT"`

	DatabaseURL   string   `yaml:"database_url" env:"LB_DATABASE_URL"`
	StaticWorkers []string `yaml:"workers" env:"LB_WORKERS" envSeparator:","`

	LeastConnectionsThreshold int `yaml:"lc_threshold" env:"LB_LC_THRESHOLD"`
	RandomThreshold           int `yaml:"random_threshold" env:"LB_RANDOM_THRESHOLD"`

	LogLevel  string `yaml:"log_level" env:"LB_LOG_LEVEL"`
	LogPretty bool   `yaml:"log_pretty" env:"LB_LOG_PRETTY"`
}

// Load reads configPath if it exists, applies environment overrides (env
// always wins over YAML, which always wins over the built-in defaults), and
// validates the result.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}
	cfg.setDefaults()

	file, err := os.Open(configPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: failed to decode %s: %w", configPath, err)
		}
	case os.IsNotExist(err):
		// No config file: proceed with defaults and environment variables.
	default:
		return nil, fmt.Errorf("config: failed to open %s: %w", configPath, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	c.ListenAddr = "127.0.0.1:3000"
	c.MetricsAddr = "127.0.0.1:9090"
	c.HealthCheckInterval = 60 * time.Second
	c.ProbeDialTimeout = 2 * time.Second
	c.LeastConnectionsThreshold = 10
	c.RandomThreshold = 5
	c.LogLevel = "info"
}

// Validate checks that the loaded configuration is internally consistent.
// It does not check reachability of any network resource.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.MetricsAddr == "" {
		return fmt.Errorf("metrics_addr must not be empty")
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("health_check_interval must be positive, got %v", c.HealthCheckInterval)
	}
	if c.ProbeDialTimeout <= 0 {
		return fmt.Errorf("probe_dial_timeout must be positive, got %v", c.ProbeDialTimeout)
	}
	if c.RandomThreshold < 0 || c.LeastConnectionsThreshold <= c.RandomThreshold {
		return fmt.Errorf("lc_threshold (%d) must be greater than random_threshold (%d), which must be non-negative",
			c.LeastConnectionsThreshold, c.RandomThreshold)
	}
	if c.DatabaseURL == "" && len(c.StaticWorkers) == 0 {
		return fmt.Errorf("either database_url or workers must be set")
	}
	return nil
}
