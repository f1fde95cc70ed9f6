// Package config loads application configuration from file and environment.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Watch    WatchConfig             `mapstructure:"watch"`
	Sources  map[string]SourceConfig `mapstructure:"sources"`
	Telegram TelegramConfig          `mapstructure:"telegram"`
	Storage  StorageConfig           `mapstructure:"storage"`
	Logging  LoggingConfig           `mapstructure:"logging"`
}

// WatchConfig holds the consolidation and alerting parameters.
type WatchConfig struct {
	RollingDays      int      `mapstructure:"rolling_days"`
	AlertMargin      float64  `mapstructure:"alert_margin"`
	DropThresholdPct float64  `mapstructure:"drop_threshold_pct"`
	DropThresholdAbs float64  `mapstructure:"drop_threshold_abs"`
	MinPrice         float64  `mapstructure:"min_price"`
	MaxPrice         float64  `mapstructure:"max_price"`
	MaxKm            float64  `mapstructure:"max_km"`
	MinSample        int      `mapstructure:"min_sample"`
	PriorityRegions  []string `mapstructure:"priority_regions"`
	NotifyNew        bool     `mapstructure:"notify_new"`
}

// Window returns the rolling reference window as a duration.
func (w WatchConfig) Window() time.Duration {
	return time.Duration(w.RollingDays) * 24 * time.Hour
}

// SourceConfig holds one marketplace adapter's settings.
type SourceConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	BaseURL   string        `mapstructure:"base_url"`
	Query     string        `mapstructure:"query"`
	Region    string        `mapstructure:"region"`
	MaxPages  int           `mapstructure:"max_pages"`
	PageSize  int           `mapstructure:"page_size"`
	RateLimit float64       `mapstructure:"rate_limit"` // requests per second
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("MARKET_WATCH")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults mirrors the defaults the original environment-driven deployment
// used for each knob.
func setDefaults(v *viper.Viper) {
	v.SetDefault("watch.rolling_days", 30)
	v.SetDefault("watch.alert_margin", 0.15)
	v.SetDefault("watch.drop_threshold_pct", 0.05)
	v.SetDefault("watch.drop_threshold_abs", 250.0)
	v.SetDefault("watch.min_price", 5000.0)
	v.SetDefault("watch.max_price", 15000.0)
	v.SetDefault("watch.max_km", 200000.0)
	v.SetDefault("watch.min_sample", 12)
	v.SetDefault("watch.priority_regions", []string{})
	v.SetDefault("watch.notify_new", true)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("storage.db_path", "./data/market.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are usable.
func (c *Config) Validate() error {
	if c.Watch.RollingDays < 1 {
		return fmt.Errorf("watch.rolling_days must be at least 1")
	}
	if c.Watch.AlertMargin <= 0 || c.Watch.AlertMargin >= 1 {
		return fmt.Errorf("watch.alert_margin must be between 0 and 1")
	}
	if c.Watch.DropThresholdPct <= 0 || c.Watch.DropThresholdPct >= 1 {
		return fmt.Errorf("watch.drop_threshold_pct must be between 0 and 1")
	}
	if c.Watch.DropThresholdAbs < 0 {
		return fmt.Errorf("watch.drop_threshold_abs must not be negative")
	}
	if c.Watch.MinPrice < 0 {
		return fmt.Errorf("watch.min_price must not be negative")
	}
	if c.Watch.MaxPrice <= c.Watch.MinPrice {
		return fmt.Errorf("watch.max_price must be greater than watch.min_price")
	}
	if c.Watch.MaxKm <= 0 {
		return fmt.Errorf("watch.max_km must be positive")
	}
	if c.Watch.MinSample < 1 {
		return fmt.Errorf("watch.min_sample must be at least 1")
	}

	enabled := 0
	for name, src := range c.Sources {
		if !src.Enabled {
			continue
		}
		enabled++
		if src.BaseURL == "" {
			return fmt.Errorf("sources.%s.base_url is required when the source is enabled", name)
		}
		if src.RateLimit <= 0 {
			return fmt.Errorf("sources.%s.rate_limit must be positive", name)
		}
		if src.MaxPages < 1 {
			return fmt.Errorf("sources.%s.max_pages must be at least 1", name)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one source must be enabled")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
