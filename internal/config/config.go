// Package config loads and validates service configuration via Viper.
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
	Logging   LoggingConfig   `mapstructure:"logging"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	HTML      HTMLConfig      `mapstructure:"html"`
	PDF       PDFConfig       `mapstructure:"pdf"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Events    EventsConfig    `mapstructure:"events"`
	Progress  ProgressConfig  `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// TimeoutSeconds bounds one request end to end. It must cover the
	// slowest scrape path, which may walk every fetch backend.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// BlockedDomains extends the built-in social-network blocklist.
	BlockedDomains []string `mapstructure:"blocked_domains"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TokenEntry maps an API token to a team and its subscription plan.
type TokenEntry struct {
	TeamID string `mapstructure:"team_id"`
	Plan   string `mapstructure:"plan"`
}

// TokenTable maps raw bearer tokens to their team entries. It stands in for
// the production identity service.
type TokenTable map[string]TokenEntry

// AuthConfig defines API authentication settings.
type AuthConfig struct {
	Tokens       TokenTable `mapstructure:"tokens"`
	PreviewToken string     `mapstructure:"preview_token"`
}

// BrowserBackendConfig points at the headless-browser rendering service.
type BrowserBackendConfig struct {
	URL string `mapstructure:"url"`
}

// ProxyBackendConfig points at the proxy-fetch service. The rendered variant
// shares the endpoint and key; it differs only in the request it sends.
type ProxyBackendConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// ChromeBackendConfig controls the in-process headless Chrome backend.
type ChromeBackendConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	MaxParallel       int  `mapstructure:"max_parallel"`
	NavTimeoutSeconds int  `mapstructure:"nav_timeout_seconds"`
}

// OverrideRuleConfig is one custom-scraping rule evaluated after each backend
// attempt. A matching rule supersedes the attempt with a different fetch.
type OverrideRuleConfig struct {
	// HTMLContains matches when the fetched body contains the marker.
	HTMLContains string `mapstructure:"html_contains"`
	// URLSuffix matches when the request URL ends with the suffix.
	URLSuffix string `mapstructure:"url_suffix"`
	// Backend names the backend to re-fetch with. Empty with PDF set means
	// a direct PDF download.
	Backend string `mapstructure:"backend"`
	WaitMS  int64  `mapstructure:"wait_ms"`
	PDF     bool   `mapstructure:"pdf"`
}

// FetchConfig governs the backend set and the fallback pipeline.
type FetchConfig struct {
	BaseTimeoutSeconds int    `mapstructure:"base_timeout_seconds"`
	UserAgent          string `mapstructure:"user_agent"`

	Browser BrowserBackendConfig `mapstructure:"browser"`
	Proxy   ProxyBackendConfig   `mapstructure:"proxy"`
	Chrome  ChromeBackendConfig  `mapstructure:"chrome"`
	// HTTPEnabled toggles the plain-HTTP backend; it needs no external
	// service and defaults on.
	HTTPEnabled bool `mapstructure:"http_enabled"`

	// DomainOverrides maps a hostname (without www.) to the backend that
	// should lead the order for that domain.
	DomainOverrides map[string]string `mapstructure:"domain_overrides"`
	// Overrides extends the built-in custom-scraping rules.
	Overrides []OverrideRuleConfig `mapstructure:"overrides"`
}

// HTMLConfig controls cleaning behavior.
type HTMLConfig struct {
	// ExcludeNonMainSelectors lists the selectors stripped when a request
	// asks for main content only.
	ExcludeNonMainSelectors []string `mapstructure:"exclude_non_main_selectors"`
}

// PDFConfig points at the PDF parse service. When unset, extraction falls
// back to the local parser.
type PDFConfig struct {
	ServiceURL     string `mapstructure:"service_url"`
	APIKey         string `mapstructure:"api_key"`
	PollIntervalMs int    `mapstructure:"poll_interval_ms"`
	PollAttempts   int    `mapstructure:"poll_attempts"`
}

// CrawlConfig governs the coordinator, worker pool, and frontier defaults.
type CrawlConfig struct {
	Workers               int `mapstructure:"workers"`
	QueueDepth            int `mapstructure:"queue_depth"`
	MaxDepthDefault       int `mapstructure:"max_depth_default"`
	MaxLinksDefault       int `mapstructure:"max_links_default"`
	SitemapTimeoutSeconds int `mapstructure:"sitemap_timeout_seconds"`
}

// ModeLimits holds per-mode bucket capacities for one plan, in requests per
// window.
type ModeLimits struct {
	Crawl       int `mapstructure:"crawl"`
	Scrape      int `mapstructure:"scrape"`
	CrawlStatus int `mapstructure:"crawl_status"`
	Search      int `mapstructure:"search"`
}

// RateLimitConfig selects the bucket store and the per-plan capacities.
type RateLimitConfig struct {
	// Backend is "memory" or "redis".
	Backend       string `mapstructure:"backend"`
	WindowSeconds int    `mapstructure:"window_seconds"`
	// Preview is the fixed capacity of the preview-identity bucket.
	Preview  int        `mapstructure:"preview"`
	Starter  ModeLimits `mapstructure:"starter"`
	Standard ModeLimits `mapstructure:"standard"`
	Scale    ModeLimits `mapstructure:"scale"`
}

// RedisConfig configures the shared redis used by the rate limiter and the
// redis task queue.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	QueueKey string `mapstructure:"queue_key"`
}

// DatabaseConfig controls the postgres job store. Empty DSN keeps the
// in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// LocalStorageConfig roots the filesystem blob store.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// StorageConfig selects the blob archive backend.
type StorageConfig struct {
	// Backend is "gcs", "local", "memory", or "" for no archiving.
	Backend string             `mapstructure:"backend"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
	// ArchiveRaw stores each page's raw HTML and records the ref on the job.
	ArchiveRaw bool `mapstructure:"archive_raw"`
}

// PubSubEventsConfig holds the Pub/Sub project for event publishing.
type PubSubEventsConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// KafkaEventsConfig holds the Kafka brokers for event publishing.
type KafkaEventsConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

// EventsConfig selects the publisher for job lifecycle and billing events.
type EventsConfig struct {
	// Backend is "pubsub", "kafka", or "" for the in-memory publisher.
	Backend      string             `mapstructure:"backend"`
	Topic        string             `mapstructure:"topic"`
	BillingTopic string             `mapstructure:"billing_topic"`
	PubSub       PubSubEventsConfig `mapstructure:"pubsub"`
	Kafka        KafkaEventsConfig  `mapstructure:"kafka"`
}

// ProgressBatchConfig tunes hub batching.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// ProgressConfig controls the progress hub and its sinks.
type ProgressConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	LogEnabled    bool                `mapstructure:"log_enabled"`
	BufferSize    int                 `mapstructure:"buffer_size"`
	Batch         ProgressBatchConfig `mapstructure:"batch"`
	SinkTimeoutMs int                 `mapstructure:"sink_timeout_ms"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPELINE")
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
	v.SetDefault("server.port", 3002)
	v.SetDefault("server.timeout_seconds", 90)
	v.SetDefault("logging.development", true)
	v.SetDefault("auth.preview_token", "preview")
	v.SetDefault("fetch.base_timeout_seconds", 15)
	v.SetDefault("fetch.user_agent", "scrapeline/1.0 (+https://github.com/scrapeline/scrapeline)")
	v.SetDefault("fetch.http_enabled", true)
	v.SetDefault("fetch.chrome.enabled", false)
	v.SetDefault("fetch.chrome.max_parallel", 2)
	v.SetDefault("fetch.chrome.nav_timeout_seconds", 30)
	v.SetDefault("pdf.poll_interval_ms", 500)
	v.SetDefault("pdf.poll_attempts", 20)
	v.SetDefault("crawl.workers", 8)
	v.SetDefault("crawl.queue_depth", 1024)
	v.SetDefault("crawl.max_depth_default", 2)
	v.SetDefault("crawl.max_links_default", 1000)
	v.SetDefault("crawl.sitemap_timeout_seconds", 10)
	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.window_seconds", 60)
	v.SetDefault("ratelimit.preview", 5)
	v.SetDefault("ratelimit.starter.crawl", 3)
	v.SetDefault("ratelimit.starter.scrape", 20)
	v.SetDefault("ratelimit.starter.crawl_status", 150)
	v.SetDefault("ratelimit.starter.search", 20)
	v.SetDefault("ratelimit.standard.crawl", 10)
	v.SetDefault("ratelimit.standard.scrape", 50)
	v.SetDefault("ratelimit.standard.crawl_status", 250)
	v.SetDefault("ratelimit.standard.search", 40)
	v.SetDefault("ratelimit.scale.crawl", 50)
	v.SetDefault("ratelimit.scale.scrape", 500)
	v.SetDefault("ratelimit.scale.crawl_status", 500)
	v.SetDefault("ratelimit.scale.search", 500)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.queue_key", "scrapeline:tasks")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.archive_raw", false)
	v.SetDefault("events.topic", "scrapeline-jobs")
	v.SetDefault("events.billing_topic", "scrapeline-billing")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.batch.max_events", 1000)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 10000)
	v.SetDefault("html.exclude_non_main_selectors", defaultExcludeNonMainSelectors)
}

// defaultExcludeNonMainSelectors lists the tags stripped in main-content
// mode, on top of the unconditional script/style/head removal.
var defaultExcludeNonMainSelectors = []string{
	"header", "footer", "nav", "aside",
	".header", ".top", ".navbar", "#header",
	".footer", ".bottom", "#footer",
	".sidebar", ".side", ".aside", "#sidebar",
	".modal", ".popup", "#modal",
	".overlay", ".ad", ".ads", ".advert", "#ad",
	".lang-selector", ".language", "#language-selector",
	".social", ".social-media", ".social-links", "#social",
	".menu", ".navigation", "#nav",
	".breadcrumbs", "#breadcrumbs",
	".share", "#share",
	".cookie", "#cookie",
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.TimeoutSeconds <= 0 {
		return fmt.Errorf("server.timeout_seconds must be > 0")
	}
	if c.Fetch.BaseTimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.base_timeout_seconds must be > 0")
	}
	if c.Crawl.Workers <= 0 {
		return fmt.Errorf("crawl.workers must be > 0")
	}
	if c.Crawl.QueueDepth <= 0 {
		return fmt.Errorf("crawl.queue_depth must be > 0")
	}
	if c.Fetch.Chrome.Enabled && c.Fetch.Chrome.MaxParallel <= 0 {
		return fmt.Errorf("fetch.chrome.max_parallel must be > 0 when chrome is enabled")
	}
	if c.RateLimit.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set when ratelimit.backend is redis")
	}
	if c.Storage.Backend == "gcs" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket must be set when storage.backend is gcs")
	}
	if c.Events.Backend == "pubsub" && c.Events.PubSub.ProjectID == "" {
		return fmt.Errorf("events.pubsub.project_id must be set when events.backend is pubsub")
	}
	if c.Events.Backend == "kafka" && len(c.Events.Kafka.Brokers) == 0 {
		return fmt.Errorf("events.kafka.brokers must be set when events.backend is kafka")
	}
	for name := range c.Fetch.DomainOverrides {
		if strings.HasPrefix(name, "www.") {
			return fmt.Errorf("fetch.domain_overrides key %q must not carry a www. prefix", name)
		}
	}
	return nil
}

// BaseTimeout returns the per-backend base timeout as a duration.
func (c Config) BaseTimeout() time.Duration {
	return time.Duration(c.Fetch.BaseTimeoutSeconds) * time.Second
}

// SitemapTimeout bounds each sitemap fetch during frontier expansion.
func (c Config) SitemapTimeout() time.Duration {
	return time.Duration(c.Crawl.SitemapTimeoutSeconds) * time.Second
}
