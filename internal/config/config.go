// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/venturescope/scraperd/internal/extract"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Scraping ScrapingConfig `mapstructure:"scraping"`
	Server   ServerConfig   `mapstructure:"server"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Sites    []SiteConfig   `mapstructure:"sites"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ScrapingConfig governs acquisition behavior across all sites.
type ScrapingConfig struct {
	UserAgent   string         `mapstructure:"user_agent"`
	HTTP        HTTPConfig     `mapstructure:"http"`
	Headless    HeadlessConfig `mapstructure:"headless"`
	Retry       RetryConfig    `mapstructure:"retry"`
	Breaker     BreakerConfig  `mapstructure:"breaker"`
	Throttle    ThrottleConfig `mapstructure:"throttle"`
	RenderHosts []string       `mapstructure:"render_hosts"`
	DetectShell bool           `mapstructure:"detect_shell"`
}

// HTTPConfig configures the static transport.
type HTTPConfig struct {
	TimeoutSeconds       int `mapstructure:"timeout_seconds"`
	RetryAfterDefaultSec int `mapstructure:"retry_after_default_seconds"`
}

// Timeout returns the per-attempt HTTP timeout.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryAfterDefault substitutes for a missing Retry-After header.
func (c HTTPConfig) RetryAfterDefault() time.Duration {
	return time.Duration(c.RetryAfterDefaultSec) * time.Second
}

// HeadlessConfig configures the rendering transport.
type HeadlessConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	MaxParallel       int  `mapstructure:"max_parallel"`
	NavTimeoutSec     int  `mapstructure:"nav_timeout_seconds"`
	WaitSelectorSec   int  `mapstructure:"wait_selector_timeout_seconds"`
	SettleDelayMillis int  `mapstructure:"settle_delay_ms"`
}

// NavigationTimeout bounds a full page render.
func (c HeadlessConfig) NavigationTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// WaitSelectorTimeout bounds waiting for a requested selector.
func (c HeadlessConfig) WaitSelectorTimeout() time.Duration {
	return time.Duration(c.WaitSelectorSec) * time.Second
}

// SettleDelay is the post-ready pause before snapshotting the DOM.
func (c HeadlessConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMillis) * time.Millisecond
}

// RetryConfig shapes the per-transport retry executors.
type RetryConfig struct {
	MaxAttempts    int     `mapstructure:"max_attempts"`
	InitialDelayMs int     `mapstructure:"initial_delay_ms"`
	MaxDelayMs     int     `mapstructure:"max_delay_ms"`
	BackoffFactor  float64 `mapstructure:"backoff_factor"`
}

// InitialDelay is the first backoff step.
func (c RetryConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelayMs) * time.Millisecond
}

// MaxDelay caps the backoff curve.
func (c RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// BreakerConfig shapes the per-transport circuit breakers.
type BreakerConfig struct {
	Threshold       int `mapstructure:"threshold"`
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
}

// Cooldown is how long an open breaker rejects before probing.
func (c BreakerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// ThrottleConfig shapes per-host request spacing.
type ThrottleConfig struct {
	BaseDelayMs    int     `mapstructure:"base_delay_ms"`
	HostRPS        float64 `mapstructure:"host_rps"`
	HostBurst      int     `mapstructure:"host_burst"`
	HotThreshold   float64 `mapstructure:"hot_threshold"`
	PenaltyDelayMs int     `mapstructure:"penalty_delay_ms"`
	WindowMs       int     `mapstructure:"window_ms"`
}

// BaseDelay is slept (jittered) before every request.
func (c ThrottleConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// PenaltyDelay is the adaptive slow-down step.
func (c ThrottleConfig) PenaltyDelay() time.Duration {
	return time.Duration(c.PenaltyDelayMs) * time.Millisecond
}

// Window bounds the recent-rate accounting.
func (c ThrottleConfig) Window() time.Duration {
	return time.Duration(c.WindowMs) * time.Millisecond
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                int `mapstructure:"port"`
	ShutdownTimeoutSecs int `mapstructure:"shutdown_timeout_seconds"`
}

// ShutdownTimeout bounds graceful drain on exit.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSecs) * time.Second
}

// ArchiveConfig selects the snapshot backend.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
}

// NotifyConfig selects the change-event backend.
type NotifyConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// PipelineConfig shapes the scheduler.
type PipelineConfig struct {
	IntervalMinutes      int `mapstructure:"interval_minutes"`
	RetryIntervalMinutes int `mapstructure:"retry_interval_minutes"`
}

// Interval is the pause between successful runs.
func (c PipelineConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// RetryInterval is the shorter pause after a failed run.
func (c PipelineConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMinutes) * time.Minute
}

// FeedConfig points deal discovery at an RSS feed.
type FeedConfig struct {
	URL           string   `mapstructure:"url"`
	LookbackHours int      `mapstructure:"lookback_hours"`
	Keywords      []string `mapstructure:"keywords"`
}

// Lookback converts the configured hours to a duration.
func (c FeedConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackHours) * time.Hour
}

// SiteConfig describes one scrape target and its selector sets.
type SiteConfig struct {
	Slug         string                     `mapstructure:"slug"`
	Name         string                     `mapstructure:"name"`
	BaseURL      string                     `mapstructure:"base_url"`
	PortfolioURL string                     `mapstructure:"portfolio_url"`
	TeamURL      string                     `mapstructure:"team_url"`
	RenderHint   bool                       `mapstructure:"render_hint"`
	WaitSelector string                     `mapstructure:"wait_selector"`
	Portfolio    extract.PortfolioSelectors `mapstructure:"portfolio"`
	Team         extract.TeamSelectors      `mapstructure:"team"`
	Feed         FeedConfig                 `mapstructure:"feed"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("scraping.user_agent", "scraperd/0.1")
	v.SetDefault("scraping.http.timeout_seconds", 15)
	v.SetDefault("scraping.http.retry_after_default_seconds", 30)
	v.SetDefault("scraping.headless.enabled", false)
	v.SetDefault("scraping.headless.max_parallel", 2)
	v.SetDefault("scraping.headless.nav_timeout_seconds", 25)
	v.SetDefault("scraping.headless.wait_selector_timeout_seconds", 8)
	v.SetDefault("scraping.headless.settle_delay_ms", 500)
	v.SetDefault("scraping.retry.max_attempts", 3)
	v.SetDefault("scraping.retry.initial_delay_ms", 250)
	v.SetDefault("scraping.retry.max_delay_ms", 5000)
	v.SetDefault("scraping.retry.backoff_factor", 2.0)
	v.SetDefault("scraping.breaker.threshold", 5)
	v.SetDefault("scraping.breaker.cooldown_seconds", 60)
	v.SetDefault("scraping.throttle.base_delay_ms", 1000)
	v.SetDefault("scraping.throttle.host_rps", 2)
	v.SetDefault("scraping.throttle.host_burst", 1)
	v.SetDefault("scraping.throttle.hot_threshold", 10)
	v.SetDefault("scraping.throttle.penalty_delay_ms", 500)
	v.SetDefault("scraping.throttle.window_ms", 1000)
	v.SetDefault("scraping.detect_shell", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("archive.backend", "none")
	v.SetDefault("notify.backend", "none")
	v.SetDefault("pipeline.interval_minutes", 360)
	v.SetDefault("pipeline.retry_interval_minutes", 60)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Scraping.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("scraping.http.timeout_seconds must be > 0")
	}
	if c.Scraping.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("scraping.retry.max_attempts must be > 0")
	}
	if c.Scraping.Breaker.Threshold <= 0 {
		return fmt.Errorf("scraping.breaker.threshold must be > 0")
	}
	if c.Scraping.Headless.Enabled && c.Scraping.Headless.MaxParallel <= 0 {
		return fmt.Errorf("scraping.headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Pipeline.IntervalMinutes <= 0 {
		return fmt.Errorf("pipeline.interval_minutes must be > 0")
	}

	switch c.Archive.Backend {
	case "none", "memory":
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required when archive.backend is gcs")
		}
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required when archive.backend is local")
		}
	default:
		return fmt.Errorf("archive.backend %q is not one of none, memory, local, gcs", c.Archive.Backend)
	}

	switch c.Notify.Backend {
	case "none", "memory":
	case "pubsub":
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic are required when notify.backend is pubsub")
		}
	default:
		return fmt.Errorf("notify.backend %q is not one of none, memory, pubsub", c.Notify.Backend)
	}

	slugs := make(map[string]bool, len(c.Sites))
	for i, site := range c.Sites {
		if site.Slug == "" {
			return fmt.Errorf("sites[%d].slug is required", i)
		}
		if slugs[site.Slug] {
			return fmt.Errorf("sites[%d].slug %q is duplicated", i, site.Slug)
		}
		slugs[site.Slug] = true
		if site.BaseURL == "" {
			return fmt.Errorf("sites[%d].base_url is required", i)
		}
		if site.PortfolioURL == "" && site.TeamURL == "" && site.Feed.URL == "" {
			return fmt.Errorf("sites[%d] needs at least one of portfolio_url, team_url, feed.url", i)
		}
	}

	return nil
}
