// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/distindex/harvester/internal/crawl"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawl    CrawlConfig        `mapstructure:"crawl"`
	HTTP     HTTPConfig         `mapstructure:"http"`
	Headless HeadlessConfig     `mapstructure:"headless"`
	DB       DBConfig           `mapstructure:"db"`
	Logging  LoggingConfig      `mapstructure:"logging"`
	Targets  []crawl.TargetSpec `mapstructure:"targets"`
}

// CrawlConfig governs traversal policy.
type CrawlConfig struct {
	Parallelism         int    `mapstructure:"parallelism"`
	FolderVisitCap      int    `mapstructure:"folder_visit_cap"`
	MaxNewReleases      int    `mapstructure:"max_new_releases"`
	DelayMs             int    `mapstructure:"delay_ms"`
	UserAgent           string `mapstructure:"user_agent"`
	SkipUnparsedFolders bool   `mapstructure:"skip_unparsed_folders"`
}

// HTTPConfig configures the static fetch path.
type HTTPConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RetryDelayMs   int     `mapstructure:"retry_delay_ms"`
	DomainQPS      float64 `mapstructure:"domain_qps"`
}

// HeadlessConfig configures the rendered fetch path.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	MinHTMLBytes  int  `mapstructure:"min_html_bytes"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("crawl.parallelism", 2)
	v.SetDefault("crawl.folder_visit_cap", 12)
	v.SetDefault("crawl.max_new_releases", 5)
	v.SetDefault("crawl.delay_ms", 750)
	v.SetDefault("crawl.user_agent", "distindex-harvester/0.1")
	v.SetDefault("crawl.skip_unparsed_folders", false)
	v.SetDefault("http.timeout_seconds", 20)
	v.SetDefault("http.retry_delay_ms", 500)
	v.SetDefault("http.domain_qps", 2)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.min_html_bytes", 512)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawl.Parallelism <= 0 {
		return fmt.Errorf("crawl.parallelism must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	for i, spec := range c.Targets {
		if _, err := crawl.NewTarget(spec); err != nil {
			return fmt.Errorf("targets[%d]: %w", i, err)
		}
	}
	return nil
}

// HTTPTimeout returns the static fetch timeout as a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// NavTimeout returns the headless navigation timeout as a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// CrawlDelay returns the inter-request politeness delay as a duration.
func (c Config) CrawlDelay() time.Duration {
	return time.Duration(c.Crawl.DelayMs) * time.Millisecond
}

// RetryDelay returns the pause before a fetch's single retry.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.HTTP.RetryDelayMs) * time.Millisecond
}

// ConnLifetime returns the pooled connection lifetime as a duration.
func (c Config) ConnLifetime() time.Duration {
	return time.Duration(c.DB.ConnLifetimeMin) * time.Minute
}

// CompiledTargets converts the raw target specs. Validate has already
// checked them, so errors here only occur on hand-built configs.
func (c Config) CompiledTargets() ([]crawl.Target, error) {
	out := make([]crawl.Target, 0, len(c.Targets))
	for i, spec := range c.Targets {
		t, err := crawl.NewTarget(spec)
		if err != nil {
			return nil, fmt.Errorf("targets[%d]: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}
