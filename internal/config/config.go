// Package config loads and validates sentinel configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Targeting TargetingConfig `mapstructure:"targeting"`
	Feeds     FeedsConfig     `mapstructure:"feeds"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Database  DatabaseConfig  `mapstructure:"database"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig holds the shared secret the cron trigger must present.
type AuthConfig struct {
	CronSecret string `mapstructure:"cron_secret"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HTTPConfig configures the feed fetcher.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// RateLimitConfig throttles repeated fetches against one host.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	WaitSelector  string `mapstructure:"wait_selector"`
	SettleDelayMS int    `mapstructure:"settle_delay_ms"`
}

// PipelineConfig bounds a single run.
type PipelineConfig struct {
	EnrichLimit           int `mapstructure:"enrich_limit"`
	FetcherTimeoutSeconds int `mapstructure:"fetcher_timeout_seconds"`
}

// TargetingConfig holds the filters applied by the snipers.
type TargetingConfig struct {
	ZipCodes            []string `mapstructure:"zip_codes"`
	LicenseTiers        []int    `mapstructure:"license_tiers"`
	DistressKeywords    []string `mapstructure:"distress_keywords"`
	DocketKeywords      []string `mapstructure:"docket_keywords"`
	DocketLookaheadDays int      `mapstructure:"docket_lookahead_days"`
	IntegrityWindowDays int      `mapstructure:"integrity_window_days"`
	TOTWindowDays       int      `mapstructure:"tot_window_days"`
	RenewalWindowDays   int      `mapstructure:"renewal_window_days"`
	Timezone            string   `mapstructure:"timezone"`
}

// FeedsConfig lists the public-records endpoints.
type FeedsConfig struct {
	CodeEnforcementURL string `mapstructure:"code_enforcement_url"`
	ParkingURL         string `mapstructure:"parking_url"`
	StroLicensesURL    string `mapstructure:"stro_licenses_url"`
	TOTURL             string `mapstructure:"tot_url"`
	CouncilMeetingsURL string `mapstructure:"council_meetings_url"`
}

// ScraperConfig points at the optional third-party listings API.
type ScraperConfig struct {
	URL          string `mapstructure:"url"`
	Token        string `mapstructure:"token"`
	ListingsPath string `mapstructure:"listings_path"`
}

// DatabaseConfig selects and tunes the snapshot/docket/run-log backend.
type DatabaseConfig struct {
	Backend         string        `mapstructure:"backend"`
	DSN             string        `mapstructure:"dsn"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	SnapshotTable   string        `mapstructure:"snapshot_table"`
	DocketTable     string        `mapstructure:"docket_table"`
	RunLogTable     string        `mapstructure:"run_log_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for digest notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// StorageConfig selects where digests are archived.
type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	Bucket  string      `mapstructure:"bucket"`
	Prefix  string      `mapstructure:"prefix"`
	Local   LocalConfig `mapstructure:"local"`
}

// LocalConfig is the filesystem archive root.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SENTINEL")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 600)
	v.SetDefault("auth.cron_secret", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "municipal-sentinel/0.1")
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.default_rps", 1.0)
	v.SetDefault("rate_limit.default_burst", 1)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.wait_selector", "table tr")
	v.SetDefault("headless.settle_delay_ms", 500)
	v.SetDefault("pipeline.enrich_limit", 50)
	v.SetDefault("pipeline.fetcher_timeout_seconds", 60)
	v.SetDefault("targeting.zip_codes", []string{"92037", "92101", "92103", "92106", "92107", "92109"})
	v.SetDefault("targeting.license_tiers", []int{3, 4})
	v.SetDefault("targeting.distress_keywords", []string{
		"vacant", "abandoned", "boarded", "unsafe", "substandard",
		"hoarding", "overgrown", "fire damage", "squatter", "unpermitted",
	})
	v.SetDefault("targeting.docket_keywords", []string{
		"short-term rental", "short term rental", "stro", "vacation rental",
		"transient occupancy", "home sharing",
	})
	v.SetDefault("targeting.docket_lookahead_days", 7)
	v.SetDefault("targeting.integrity_window_days", 30)
	v.SetDefault("targeting.tot_window_days", 7)
	v.SetDefault("targeting.renewal_window_days", 30)
	v.SetDefault("targeting.timezone", "UTC")
	v.SetDefault("feeds.code_enforcement_url", "")
	v.SetDefault("feeds.parking_url", "")
	v.SetDefault("feeds.stro_licenses_url", "")
	v.SetDefault("feeds.tot_url", "")
	v.SetDefault("feeds.council_meetings_url", "")
	v.SetDefault("scraper.url", "")
	v.SetDefault("scraper.token", "")
	v.SetDefault("scraper.listings_path", "listings")
	v.SetDefault("database.backend", "memory")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.sqlite_path", "sentinel.db")
	v.SetDefault("database.snapshot_table", "stro_snapshots")
	v.SetDefault("database.docket_table", "docket_history")
	v.SetDefault("database.run_log_table", "sentinel_runs")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "digests")
	v.SetDefault("storage.local.base_dir", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Pipeline.EnrichLimit <= 0 {
		return fmt.Errorf("pipeline.enrich_limit must be > 0")
	}
	if c.Pipeline.FetcherTimeoutSeconds <= 0 {
		return fmt.Errorf("pipeline.fetcher_timeout_seconds must be > 0")
	}
	// Six sources run back to back, each under the fetcher timeout.
	if budget := 6*c.FetcherTimeout() + time.Minute; c.RequestTimeout() < budget {
		return fmt.Errorf("server.request_timeout_seconds must be >= %d (six fetcher timeouts plus a minute)", int(budget.Seconds()))
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Headless.SettleDelayMS < 0 {
		return fmt.Errorf("headless.settle_delay_ms must be >= 0")
	}
	if c.Targeting.DocketLookaheadDays < 0 || c.Targeting.IntegrityWindowDays < 0 ||
		c.Targeting.TOTWindowDays < 0 || c.Targeting.RenewalWindowDays < 0 {
		return fmt.Errorf("targeting windows must be >= 0")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.Database.Backend {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres backend")
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("database.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown database.backend %q", c.Database.Backend)
	}
	switch c.Storage.Backend {
	case "memory":
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	return nil
}

// HTTPTimeout returns the per-request feed timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// FetcherTimeout returns the budget granted to each sniper.
func (c Config) FetcherTimeout() time.Duration {
	return time.Duration(c.Pipeline.FetcherTimeoutSeconds) * time.Second
}

// RequestTimeout returns the trigger handler timeout.
func (c Config) RequestTimeout() time.Duration {
	if c.Server.RequestTimeoutSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// Location resolves targeting.timezone. Empty means UTC.
func (c Config) Location() (*time.Location, error) {
	if c.Targeting.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Targeting.Timezone)
	if err != nil {
		return nil, fmt.Errorf("targeting.timezone: %w", err)
	}
	return loc, nil
}

// Days converts a day count into a duration.
func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
