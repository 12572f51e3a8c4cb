// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full worker/watchdog configuration. Every field has a
// default, so an empty file (or none at all) yields a runnable config against
// a local database.
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	RedisAddr   string `mapstructure:"redis_addr"` // empty disables the heartbeat registry
	MetricsAddr string `mapstructure:"metrics_addr"`

	Log LogConfig `mapstructure:"log"`

	MaxRetries             int `mapstructure:"max_retries"`
	WorkerTimeoutSeconds   int `mapstructure:"worker_timeout_seconds"`
	CheckoutTimeoutMinutes int `mapstructure:"checkout_timeout_minutes"`

	WatchdogStaleHoursTranscribe     int    `mapstructure:"watchdog_stale_hours_transcribe"`
	WatchdogStaleHoursProcessContent int    `mapstructure:"watchdog_stale_hours_process_content"`
	AlertThreshold                   int    `mapstructure:"alert_threshold"`
	AlertWebhookURL                  string `mapstructure:"alert_webhook_url"`

	PollStartupIntervalMS int `mapstructure:"poll_startup_interval_ms"`
	PollBackoffIntervalMS int `mapstructure:"poll_backoff_interval_ms"`
	PollBackoffMaxMS      int `mapstructure:"poll_backoff_max_ms"`

	CleanupDays int `mapstructure:"cleanup_days"`

	HTTPTimeoutSeconds int     `mapstructure:"http_timeout_seconds"`
	HTTPPerHostRPS     float64 `mapstructure:"http_per_host_rps"`
}

// LogConfig controls the shared logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_url", "postgres://localhost:5432/pipeline?sslmode=disable")
	v.SetDefault("redis_addr", "")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("max_retries", 3)
	v.SetDefault("worker_timeout_seconds", 600)
	v.SetDefault("checkout_timeout_minutes", 30)
	v.SetDefault("watchdog_stale_hours_transcribe", 2)
	v.SetDefault("watchdog_stale_hours_process_content", 2)
	v.SetDefault("alert_threshold", 5)
	v.SetDefault("alert_webhook_url", "")
	v.SetDefault("poll_startup_interval_ms", 100)
	v.SetDefault("poll_backoff_interval_ms", 1000)
	v.SetDefault("poll_backoff_max_ms", 5000)
	v.SetDefault("cleanup_days", 7)
	v.SetDefault("http_timeout_seconds", 30)
	v.SetDefault("http_per_host_rps", 2)
}

// Load reads the YAML config at path (optional) with PIPELINE_* env
// overrides applied on top.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PIPELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration with no file or env applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always unmarshal cleanly.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func (c *Config) validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.PollStartupIntervalMS <= 0 || c.PollBackoffIntervalMS <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.PollBackoffMaxMS < c.PollBackoffIntervalMS {
		return fmt.Errorf("poll_backoff_max_ms %d below poll_backoff_interval_ms %d",
			c.PollBackoffMaxMS, c.PollBackoffIntervalMS)
	}
	if c.CleanupDays <= 0 {
		return fmt.Errorf("cleanup_days must be positive, got %d", c.CleanupDays)
	}
	return nil
}

// CheckoutTimeout returns the stale-checkout threshold as a duration.
func (c *Config) CheckoutTimeout() time.Duration {
	return time.Duration(c.CheckoutTimeoutMinutes) * time.Minute
}

// PollStartupInterval is the fast polling interval used right after start.
func (c *Config) PollStartupInterval() time.Duration {
	return time.Duration(c.PollStartupIntervalMS) * time.Millisecond
}

// PollBackoffInterval is the initial idle backoff interval.
func (c *Config) PollBackoffInterval() time.Duration {
	return time.Duration(c.PollBackoffIntervalMS) * time.Millisecond
}

// PollBackoffMax caps the idle backoff.
func (c *Config) PollBackoffMax() time.Duration {
	return time.Duration(c.PollBackoffMaxMS) * time.Millisecond
}
