// Package config loads daemon configuration from file, environment, and
// defaults using viper.
//
// Configuration is looked up in the given file, or "shiftd.yaml" in the
// working directory and ~/.shiftbeat. Every key can be overridden through
// the environment with the SHIFTD_ prefix, e.g. SHIFTD_REMOTE_BASE_URL.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the daemon's full configuration.
type Config struct {
	DBPath    string          `mapstructure:"db_path"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Trigger   TriggerConfig   `mapstructure:"trigger"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
}

// RemoteConfig configures the backend client.
type RemoteConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// EngineConfig configures the sync worker.
type EngineConfig struct {
	BatchSize   int           `mapstructure:"batch_size"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`
}

// TriggerConfig configures drain scheduling.
type TriggerConfig struct {
	Debounce      time.Duration `mapstructure:"debounce"`
	Interval      time.Duration `mapstructure:"interval"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

// DashboardConfig configures the monitoring server.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LogConfig configures daemon log output and rotation.
type LogConfig struct {
	// File is the log path; empty logs to stderr only.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// setDefaults registers every default value.
func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", ".shiftbeat/local.db")

	// An empty default still registers the key so environment overrides
	// reach Unmarshal.
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.timeout", 15*time.Second)
	v.SetDefault("remote.requests_per_second", 10.0)
	v.SetDefault("remote.burst", 5)

	v.SetDefault("engine.batch_size", 50)
	v.SetDefault("engine.max_attempts", 8)
	v.SetDefault("engine.backoff_base", 2*time.Second)
	v.SetDefault("engine.backoff_cap", 5*time.Minute)

	v.SetDefault("trigger.debounce", 500*time.Millisecond)
	v.SetDefault("trigger.interval", 5*time.Minute)
	v.SetDefault("trigger.probe_interval", 15*time.Second)

	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8090)

	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 14)
}

// Load reads configuration from the given file path. When path is empty,
// the default search locations are used and a missing file is not an
// error - defaults plus environment overrides apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SHIFTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("shiftd")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.shiftbeat")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path cannot be empty")
	}
	if c.Engine.BatchSize <= 0 {
		return fmt.Errorf("engine.batch_size must be positive (got %d)", c.Engine.BatchSize)
	}
	if c.Engine.MaxAttempts <= 0 {
		return fmt.Errorf("engine.max_attempts must be positive (got %d)", c.Engine.MaxAttempts)
	}
	if c.Engine.BackoffCap < c.Engine.BackoffBase {
		return fmt.Errorf("engine.backoff_cap %v is below engine.backoff_base %v",
			c.Engine.BackoffCap, c.Engine.BackoffBase)
	}
	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port %d out of range", c.Dashboard.Port)
	}
	return nil
}
