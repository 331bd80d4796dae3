package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout_seconds: 120
auth:
  cron_secret: s3cret
logging:
  development: false
http:
  timeout_seconds: 45
  user_agent: sentinel-test
pipeline:
  enrich_limit: 25
  fetcher_timeout_seconds: 10
targeting:
  zip_codes: ["92109"]
  license_tiers: [4]
  docket_keywords: ["stro"]
  docket_lookahead_days: 3
feeds:
  stro_licenses_url: https://data.example.gov/stro.csv
scraper:
  url: https://scraper.example.com/listings
  token: tok
database:
  backend: sqlite
  sqlite_path: /tmp/sentinel.db
storage:
  backend: local
  local:
    base_dir: /tmp/digests
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.RequestTimeout() != 2*time.Minute {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if cfg.Auth.CronSecret != "s3cret" {
		t.Fatalf("expected cron secret to load")
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
	if cfg.HTTPTimeout() != 45*time.Second || cfg.HTTP.UserAgent != "sentinel-test" {
		t.Fatalf("expected http overrides, got %+v", cfg.HTTP)
	}
	if cfg.Pipeline.EnrichLimit != 25 || cfg.FetcherTimeout() != 10*time.Second {
		t.Fatalf("expected pipeline overrides, got %+v", cfg.Pipeline)
	}
	if len(cfg.Targeting.ZipCodes) != 1 || cfg.Targeting.ZipCodes[0] != "92109" {
		t.Fatalf("expected zip override, got %v", cfg.Targeting.ZipCodes)
	}
	if len(cfg.Targeting.LicenseTiers) != 1 || cfg.Targeting.LicenseTiers[0] != 4 {
		t.Fatalf("expected tier override, got %v", cfg.Targeting.LicenseTiers)
	}
	if cfg.Targeting.DocketLookaheadDays != 3 || cfg.Targeting.RenewalWindowDays != 30 {
		t.Fatalf("expected targeting windows to merge with defaults, got %+v", cfg.Targeting)
	}
	if cfg.Scraper.ListingsPath != "listings" || cfg.Scraper.Token != "tok" {
		t.Fatalf("expected scraper config, got %+v", cfg.Scraper)
	}
	if cfg.Database.Backend != "sqlite" || cfg.Database.SnapshotTable != "stro_snapshots" {
		t.Fatalf("expected database config, got %+v", cfg.Database)
	}
	if cfg.Storage.Local.BaseDir != "/tmp/digests" || cfg.Storage.Prefix != "digests" {
		t.Fatalf("expected storage config, got %+v", cfg.Storage)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pipeline.EnrichLimit != 50 {
		t.Fatalf("expected default enrich limit 50, got %d", cfg.Pipeline.EnrichLimit)
	}
	if cfg.Targeting.DocketLookaheadDays != 7 || cfg.Targeting.IntegrityWindowDays != 30 ||
		cfg.Targeting.TOTWindowDays != 7 {
		t.Fatalf("unexpected default windows: %+v", cfg.Targeting)
	}
	if len(cfg.Targeting.LicenseTiers) != 2 {
		t.Fatalf("expected tiers 3 and 4, got %v", cfg.Targeting.LicenseTiers)
	}
	if cfg.Database.Backend != "memory" || cfg.Storage.Backend != "memory" {
		t.Fatalf("expected in-memory defaults, got %s/%s", cfg.Database.Backend, cfg.Storage.Backend)
	}
	if cfg.Headless.WaitSelector != "table tr" || cfg.Headless.SettleDelayMS != 500 {
		t.Fatalf("unexpected headless capture defaults: %+v", cfg.Headless)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SENTINEL_AUTH_CRON_SECRET", "from-env")
	t.Setenv("SENTINEL_PIPELINE_ENRICH_LIMIT", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.CronSecret != "from-env" {
		t.Fatalf("expected env secret, got %q", cfg.Auth.CronSecret)
	}
	if cfg.Pipeline.EnrichLimit != 7 {
		t.Fatalf("expected env enrich limit, got %d", cfg.Pipeline.EnrichLimit)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		HTTP:     HTTPConfig{TimeoutSeconds: 10},
		Pipeline: PipelineConfig{EnrichLimit: 50, FetcherTimeoutSeconds: 30},
		Database: DatabaseConfig{Backend: "memory"},
		Storage:  StorageConfig{Backend: "memory"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected base config to be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, "http.timeout_seconds"},
		{"invalid enrich limit", func(c *Config) { c.Pipeline.EnrichLimit = 0 }, "pipeline.enrich_limit"},
		{"invalid fetcher timeout", func(c *Config) { c.Pipeline.FetcherTimeoutSeconds = 0 }, "pipeline.fetcher_timeout_seconds"},
		{"request timeout below run budget", func(c *Config) { c.Server.RequestTimeoutSeconds = 200 }, "server.request_timeout_seconds"},
		{"headless missing max parallel", func(c *Config) {
			c.Headless.Enabled = true
			c.Headless.MaxParallel = 0
		}, "headless.max_parallel"},
		{"negative settle delay", func(c *Config) { c.Headless.SettleDelayMS = -1 }, "headless.settle_delay_ms"},
		{"negative window", func(c *Config) { c.Targeting.TOTWindowDays = -1 }, "targeting windows"},
		{"bad timezone", func(c *Config) { c.Targeting.Timezone = "Mars/Olympus" }, "targeting.timezone"},
		{"postgres without dsn", func(c *Config) { c.Database.Backend = "postgres" }, "database.dsn"},
		{"sqlite without path", func(c *Config) { c.Database.Backend = "sqlite" }, "database.sqlite_path"},
		{"unknown database", func(c *Config) { c.Database.Backend = "mongo" }, "unknown database.backend"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = "gcs" }, "storage.bucket"},
		{"local without dir", func(c *Config) { c.Storage.Backend = "local" }, "storage.local.base_dir"},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "s3" }, "unknown storage.backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestDays(t *testing.T) {
	t.Parallel()

	if Days(7) != 7*24*time.Hour {
		t.Fatalf("unexpected Days(7): %v", Days(7))
	}
}
