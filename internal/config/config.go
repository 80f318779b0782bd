// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/bestseller-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/bestseller-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/bestseller-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/bestseller-crawler/internal/logging"
	"github.com/JakeFAU/bestseller-crawler/internal/storage/gcs"
	"github.com/JakeFAU/bestseller-crawler/internal/storage/local"
	"github.com/JakeFAU/bestseller-crawler/internal/storage/postgres"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Browser engines.
const (
	EngineHeadless = "headless"
	EngineStatic   = "static"
)

// Backend names shared by the database, storage and publisher sections.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPubSub   = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Listing   crawler.ListingConfig   `mapstructure:"listing"`
	Detail    crawler.DetailConfig    `mapstructure:"detail"`
	Retry     crawler.RetryPolicy     `mapstructure:"retry"`
	Crawler   crawler.SchedulerConfig `mapstructure:"crawler"`
	Pipeline  crawler.PipelineConfig  `mapstructure:"pipeline"`
	Browser   BrowserConfig           `mapstructure:"browser"`
	Database  DatabaseConfig          `mapstructure:"database"`
	Storage   StorageConfig           `mapstructure:"storage"`
	Publisher PublisherConfig         `mapstructure:"publisher"`
	Cron      CronConfig              `mapstructure:"cron"`
	Server    ServerConfig            `mapstructure:"server"`
	Logging   logging.Config          `mapstructure:"logging"`
}

// BrowserConfig selects and tunes the page backend.
type BrowserConfig struct {
	Engine   string              `mapstructure:"engine"`
	Headers  map[string]string   `mapstructure:"headers"`
	Headless headless.Config     `mapstructure:"headless"`
	Static   collyfetcher.Config `mapstructure:"static"`
}

// HTTPHeaders returns the extra request headers in canonical form.
func (b BrowserConfig) HTTPHeaders() http.Header {
	if len(b.Headers) == 0 {
		return nil
	}
	h := make(http.Header, len(b.Headers))
	for k, v := range b.Headers {
		h.Set(k, v)
	}
	return h
}

// DatabaseConfig selects the ranking store.
type DatabaseConfig struct {
	Backend  string          `mapstructure:"backend"`
	Postgres postgres.Config `mapstructure:",squash"`
}

// StorageConfig selects where run snapshots are archived.
type StorageConfig struct {
	Backend string       `mapstructure:"backend"`
	Local   local.Config `mapstructure:"local"`
	GCS     gcs.Config   `mapstructure:"gcs"`
}

// PublisherConfig selects where refresh events are published.
type PublisherConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
}

// CronConfig controls the scheduled trigger.
type CronConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	// RunTimeout bounds a manual run triggered over HTTP.
	RunTimeout time.Duration `mapstructure:"run_timeout"`
	// APIKey guards POST /v1/runs when set.
	APIKey string `mapstructure:"api_key"`
}

// CronParser parses six-field schedules with a leading seconds field.
var CronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BESTSELLER")
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
	v.SetDefault("listing.url_template", "https://store.kyobobook.co.kr/bestseller/realtime?page={page}&per={per}")
	v.SetDefault("listing.first_page", 1)
	v.SetDefault("listing.last_page", 2)
	v.SetDefault("listing.per_page", 50)
	v.SetDefault("listing.link_selector", "div.ml-4 > .prod_link")
	v.SetDefault("listing.readiness", string(crawler.ReadinessNetworkIdle))
	v.SetDefault("listing.navigation_timeout", 30*time.Second)
	v.SetDefault("listing.selector_timeout", 10*time.Second)

	v.SetDefault("detail.title_selector", ".prod_title")
	v.SetDefault("detail.author_selector", ".author")
	v.SetDefault("detail.isbn_selector", "#scrollSpyProdInfo .product_detail_area.basic_info table tbody tr:nth-child(1) td")
	v.SetDefault("detail.description_selector", ".intro_bottom")
	v.SetDefault("detail.image_selector", ".portrait_img_box img")
	v.SetDefault("detail.image_attribute", "src")
	v.SetDefault("detail.ready_selector", "body")
	v.SetDefault("detail.readiness", string(crawler.ReadinessCommit))
	v.SetDefault("detail.navigation_timeout", 30*time.Second)
	v.SetDefault("detail.selector_timeout", 10*time.Second)
	v.SetDefault("detail.settle_delay", 0)

	retry := crawler.DefaultRetryPolicy()
	v.SetDefault("retry.max_attempts", retry.MaxAttempts)
	v.SetDefault("retry.backoff", retry.Backoff)
	v.SetDefault("retry.max_backoff", retry.MaxBackoff)
	v.SetDefault("retry.multiplier", retry.Multiplier)
	v.SetDefault("retry.jitter", retry.Jitter)

	v.SetDefault("crawler.concurrency", 5)
	v.SetDefault("crawler.pacing_delay", 0)

	v.SetDefault("pipeline.min_results", 1)
	v.SetDefault("pipeline.snapshot_prefix", "bestsellers")
	v.SetDefault("pipeline.topic", "bestsellers.refreshed")

	v.SetDefault("browser.engine", EngineHeadless)
	v.SetDefault("browser.headless.max_tabs", 0)
	v.SetDefault("browser.headless.user_agent", "")
	v.SetDefault("browser.headless.exec_path", "")
	v.SetDefault("browser.headless.no_sandbox", false)
	v.SetDefault("browser.headless.startup_timeout", 30*time.Second)
	v.SetDefault("browser.static.user_agent", "bestseller-crawler/0.1")
	v.SetDefault("browser.static.respect_robots", true)
	v.SetDefault("browser.static.timeout", 15*time.Second)

	v.SetDefault("database.backend", BackendMemory)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "books")
	v.SetDefault("database.max_conns", 5)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.ensure_schema", false)

	v.SetDefault("storage.backend", BackendNone)
	v.SetDefault("storage.local.base_dir", "")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "")

	v.SetDefault("publisher.backend", BackendNone)
	v.SetDefault("publisher.project_id", "")

	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.schedule", "0 10 * * * *")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.run_timeout", 15*time.Minute)
	v.SetDefault("server.api_key", "")

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.Listing.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Detail.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Crawler.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Pipeline.MinResults < 0 {
		return fmt.Errorf("pipeline.min_results must be >= 0")
	}

	switch c.Browser.Engine {
	case EngineHeadless:
		if c.Browser.Headless.MaxTabs < 0 {
			return fmt.Errorf("browser.headless.max_tabs must be >= 0")
		}
	case EngineStatic:
		if c.Browser.Static.Timeout < 0 {
			return fmt.Errorf("browser.static.timeout must be >= 0")
		}
	default:
		return fmt.Errorf("browser.engine must be %q or %q, got %q", EngineHeadless, EngineStatic, c.Browser.Engine)
	}

	switch c.Database.Backend {
	case BackendMemory:
	case BackendPostgres:
		if strings.TrimSpace(c.Database.Postgres.DSN) == "" {
			return fmt.Errorf("database.dsn is required when database.backend is postgres")
		}
	default:
		return fmt.Errorf("database.backend must be memory or postgres, got %q", c.Database.Backend)
	}

	switch c.Storage.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if strings.TrimSpace(c.Storage.Local.BaseDir) == "" {
			return fmt.Errorf("storage.local.base_dir is required when storage.backend is local")
		}
	case BackendGCS:
		if strings.TrimSpace(c.Storage.GCS.Bucket) == "" {
			return fmt.Errorf("storage.gcs.bucket is required when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend must be none, memory, local or gcs, got %q", c.Storage.Backend)
	}

	switch c.Publisher.Backend {
	case BackendNone, BackendMemory:
	case BackendPubSub:
		if strings.TrimSpace(c.Publisher.ProjectID) == "" {
			return fmt.Errorf("publisher.project_id is required when publisher.backend is pubsub")
		}
		if strings.TrimSpace(c.Pipeline.Topic) == "" {
			return fmt.Errorf("pipeline.topic is required when publisher.backend is pubsub")
		}
	default:
		return fmt.Errorf("publisher.backend must be none, memory or pubsub, got %q", c.Publisher.Backend)
	}

	if c.Cron.Enabled {
		if _, err := CronParser.Parse(c.Cron.Schedule); err != nil {
			return fmt.Errorf("cron.schedule %q: %w", c.Cron.Schedule, err)
		}
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.RunTimeout <= 0 {
		return fmt.Errorf("server.run_timeout must be > 0")
	}
	return nil
}
