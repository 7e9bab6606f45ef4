// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
	"github.com/JakeFAU/capital-forecast-crawler/internal/stages"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig     `mapstructure:"logging"`
	HTTP      HTTPConfig        `mapstructure:"http"`
	Fetcher   FetcherConfig     `mapstructure:"fetcher"`
	Headless  HeadlessConfig    `mapstructure:"headless"`
	RateLimit RateLimitConfig   `mapstructure:"rate_limit"`
	Pipeline  PipelineConfig    `mapstructure:"pipeline"`
	Redis     RedisConfig       `mapstructure:"redis"`
	Pages     map[string]string `mapstructure:"pages"`
	Stages    StagesConfig      `mapstructure:"stages"`
	Store     StoreConfig       `mapstructure:"store"`
	DB        DBConfig          `mapstructure:"db"`
	Mongo     MongoConfig       `mapstructure:"mongo"`
	Archive   ArchiveConfig     `mapstructure:"archive"`
	PubSub    PubSubConfig      `mapstructure:"pubsub"`
	Server    ServerConfig      `mapstructure:"server"`
	Progress  ProgressConfig    `mapstructure:"progress"`
}

// LoggingConfig controls the process logger and the per-worker error logs.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	Dir         string `mapstructure:"dir"`
	Suffix      string `mapstructure:"suffix"`
	FileLevel   string `mapstructure:"file_level"`
}

// HTTPConfig bounds each fetch and the retry budget around it.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// Fetcher modes.
const (
	FetcherColly    = "colly"
	FetcherHeadless = "headless"
	FetcherAuto     = "auto"
)

// FetcherConfig selects and tunes the page fetcher.
type FetcherConfig struct {
	Mode          string `mapstructure:"mode"`
	UserAgent     string `mapstructure:"user_agent"`
	RespectRobots bool   `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the chromedp fetcher.
type HeadlessConfig struct {
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	SettleMs      int    `mapstructure:"settle_ms"`
	ExecPath      string `mapstructure:"exec_path"`
	// PromotionThreshold is how many flagged responses promote a host in
	// auto mode.
	PromotionThreshold int `mapstructure:"promotion_threshold"`
	// ShellMaxBytes is the body size under which a script-heavy page is
	// treated as an unrendered shell.
	ShellMaxBytes int `mapstructure:"shell_max_bytes"`
}

// RateLimitConfig throttles fetches per host. RPS 0 disables throttling.
type RateLimitConfig struct {
	RPS   float64         `mapstructure:"rps"`
	Burst int             `mapstructure:"burst"`
	Hosts []HostRateLimit `mapstructure:"hosts"`
}

// HostRateLimit overrides the default bucket for one host. It is a list entry
// rather than a map key because host names contain the key delimiter.
type HostRateLimit struct {
	Host  string  `mapstructure:"host"`
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Queue backends.
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// PipelineConfig selects the stages to run and the hand-off between them.
type PipelineConfig struct {
	Stages           []string `mapstructure:"stages"`
	Queue            string   `mapstructure:"queue"`
	QueueCapacity    int      `mapstructure:"queue_capacity"`
	ExpectedCapitals int      `mapstructure:"expected_capitals"`
}

// RedisConfig points the hand-off queue at a Redis server.
type RedisConfig struct {
	Addr           string `mapstructure:"addr"`
	Password       string `mapstructure:"password"`
	DB             int    `mapstructure:"db"`
	Key            string `mapstructure:"key"`
	PollIntervalMs int    `mapstructure:"poll_interval_ms"`
}

// StagesConfig holds the selectors and knobs of each stage.
type StagesConfig struct {
	Capital  stages.CapitalSelectors `mapstructure:"capital"`
	Forecast ForecastStageConfig     `mapstructure:"forecast"`
	News     NewsStageConfig         `mapstructure:"news"`
}

// ForecastStageConfig adds the publish window to the forecast selectors.
type ForecastStageConfig struct {
	stages.ForecastSelectors `mapstructure:",squash"`
	WindowDays               int `mapstructure:"window_days"`
}

// NewsStageConfig adds paging to the news selectors.
type NewsStageConfig struct {
	stages.NewsSelectors `mapstructure:",squash"`
	Pages                int    `mapstructure:"pages"`
	PageParam            string `mapstructure:"page_param"`
}

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// StoreConfig selects where entities are persisted.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Migrate bool   `mapstructure:"migrate"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
}

// MongoConfig controls access to MongoDB.
type MongoConfig struct {
	URI            string `mapstructure:"uri"`
	Database       string `mapstructure:"database"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// ArchiveConfig controls raw page archiving.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds forecast notification settings.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
	Source    string `mapstructure:"source"`
}

// ServerConfig controls the ops HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ProgressConfig tunes the progress hub and the periodic progress log.
type ProgressConfig struct {
	BufferSize         int  `mapstructure:"buffer_size"`
	MaxBatchEvents     int  `mapstructure:"max_batch_events"`
	MaxBatchWaitMs     int  `mapstructure:"max_batch_wait_ms"`
	LogIntervalSeconds int  `mapstructure:"log_interval_seconds"`
	PersistRuns        bool `mapstructure:"persist_runs"`
}

// Load builds a Config from defaults, an optional file and CRAWLER_*
// environment variables, in increasing precedence.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dir", "logs")
	v.SetDefault("logging.suffix", ".log")
	v.SetDefault("logging.file_level", "warn")

	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)

	v.SetDefault("fetcher.mode", FetcherColly)
	v.SetDefault("fetcher.user_agent", "")
	v.SetDefault("fetcher.respect_robots", false)

	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.settle_ms", 500)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("headless.promotion_threshold", 2)
	v.SetDefault("headless.shell_max_bytes", 2048)

	v.SetDefault("rate_limit.rps", 1.0)
	v.SetDefault("rate_limit.burst", 2)

	v.SetDefault("pipeline.stages", []string{"capital", "forecast", "news"})
	v.SetDefault("pipeline.queue", QueueMemory)
	v.SetDefault("pipeline.queue_capacity", 64)
	v.SetDefault("pipeline.expected_capitals", 0)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "crawler:capitals")
	v.SetDefault("redis.poll_interval_ms", 100)

	// Empty templates keep the built-in page; the keys exist so
	// CRAWLER_PAGES_* variables are picked up.
	for _, key := range []crawler.PageKey{crawler.PageNews, crawler.PageCapitalList, crawler.PageWeather} {
		v.SetDefault("pages."+string(key), "")
	}

	capital := stages.DefaultCapitalSelectors()
	v.SetDefault("stages.capital.row", capital.Row)
	v.SetDefault("stages.capital.country", capital.Country)
	v.SetDefault("stages.capital.capital", capital.Capital)
	v.SetDefault("stages.capital.iso2", capital.ISO2)
	v.SetDefault("stages.capital.iso3", capital.ISO3)

	forecast := stages.DefaultForecastSelectors()
	v.SetDefault("stages.forecast.row", forecast.Row)
	v.SetDefault("stages.forecast.date", forecast.Date)
	v.SetDefault("stages.forecast.date_attr", forecast.DateAttr)
	v.SetDefault("stages.forecast.date_layout", forecast.DateLayout)
	v.SetDefault("stages.forecast.high", forecast.High)
	v.SetDefault("stages.forecast.low", forecast.Low)
	v.SetDefault("stages.forecast.summary", forecast.Summary)
	v.SetDefault("stages.forecast.window_days", stages.DefaultWindow)

	news := stages.DefaultNewsSelectors()
	v.SetDefault("stages.news.item", news.Item)
	v.SetDefault("stages.news.title", news.Title)
	v.SetDefault("stages.news.link", news.Link)
	v.SetDefault("stages.news.summary", news.Summary)
	v.SetDefault("stages.news.pages", 5)
	v.SetDefault("stages.news.page_param", "page")

	v.SetDefault("store.backend", StoreMemory)
	v.SetDefault("store.migrate", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_seconds", 1800)
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "capital_forecast")
	v.SetDefault("mongo.timeout_seconds", 10)

	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.dir", "archive")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "pages")

	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "forecast-updates")
	v.SetDefault("pubsub.source", "capital-forecast-crawler")

	v.SetDefault("server.port", 8080)

	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("progress.log_interval_seconds", 10)
	v.SetDefault("progress.persist_runs", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	for key, raw := range map[string]string{"logging.level": c.Logging.Level, "logging.file_level": c.Logging.FileLevel} {
		if raw == "" {
			continue
		}
		if _, err := zapcore.ParseLevel(raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	switch c.Fetcher.Mode {
	case FetcherColly:
	case FetcherHeadless, FetcherAuto:
		if c.Headless.MaxParallel <= 0 {
			return fmt.Errorf("headless.max_parallel must be > 0 when fetcher.mode is %s", c.Fetcher.Mode)
		}
		if c.Fetcher.Mode == FetcherAuto && c.Headless.PromotionThreshold <= 0 {
			return fmt.Errorf("headless.promotion_threshold must be > 0 when fetcher.mode is auto")
		}
	default:
		return fmt.Errorf("fetcher.mode must be one of colly, headless, auto; got %q", c.Fetcher.Mode)
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must be >= 0")
	}
	for i, h := range c.RateLimit.Hosts {
		if strings.TrimSpace(h.Host) == "" || h.RPS < 0 {
			return fmt.Errorf("rate_limit.hosts[%d] needs a host and rps >= 0", i)
		}
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if _, err := c.Catalog(); err != nil {
		return err
	}
	if err := c.validateBackends(); err != nil {
		return err
	}
	if c.Server.Port < 0 {
		return fmt.Errorf("server.port must be >= 0")
	}
	return nil
}

func (c Config) validatePipeline() error {
	if len(c.Pipeline.Stages) == 0 {
		return fmt.Errorf("pipeline.stages must name at least one stage")
	}
	for _, name := range c.Pipeline.Stages {
		switch name {
		case "capital", "forecast", "news":
		default:
			return fmt.Errorf("pipeline.stages: unknown stage %q", name)
		}
	}
	if c.RunsStage("forecast") && !c.RunsStage("capital") {
		return fmt.Errorf("pipeline.stages: forecast needs the capital stage to feed it")
	}
	if c.Pipeline.QueueCapacity <= 0 {
		return fmt.Errorf("pipeline.queue_capacity must be > 0")
	}
	switch c.Pipeline.Queue {
	case QueueMemory:
	case QueueRedis:
		if c.Redis.Addr == "" || c.Redis.Key == "" {
			return fmt.Errorf("redis.addr and redis.key are required when pipeline.queue is redis")
		}
	default:
		return fmt.Errorf("pipeline.queue must be memory or redis; got %q", c.Pipeline.Queue)
	}
	if c.Stages.News.Pages <= 0 {
		return fmt.Errorf("stages.news.pages must be > 0")
	}
	return nil
}

func (c Config) validateBackends() error {
	switch c.Store.Backend {
	case StoreMemory:
	case StorePostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required when store.backend is postgres")
		}
	case StoreMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			return fmt.Errorf("mongo.uri and mongo.database are required when store.backend is mongo")
		}
	default:
		return fmt.Errorf("store.backend must be memory, postgres or mongo; got %q", c.Store.Backend)
	}
	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir is required when archive.backend is local")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required when archive.backend is gcs")
		}
	default:
		return fmt.Errorf("archive.backend must be none, memory, local or gcs; got %q", c.Archive.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic are required when pubsub is enabled")
	}
	return nil
}

// RunsStage reports whether name is listed in pipeline.stages.
func (c Config) RunsStage(name string) bool {
	for _, s := range c.Pipeline.Stages {
		if s == name {
			return true
		}
	}
	return false
}

// Catalog builds the page catalog from defaults and pages.* overrides.
func (c Config) Catalog() (crawler.Catalog, error) {
	catalog, err := crawler.NewCatalog(c.Pages)
	if err != nil {
		return crawler.Catalog{}, fmt.Errorf("pages: %w", err)
	}
	return catalog, nil
}

// FetchTimeout is the bound on a single fetch.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RetryPolicy converts the http.* retry knobs.
func (c Config) RetryPolicy() *crawler.ExponentialRetryPolicy {
	return crawler.NewExponentialRetryPolicy(
		c.HTTP.MaxRetries,
		time.Duration(c.HTTP.BackoffInitialMs)*time.Millisecond,
		time.Duration(c.HTTP.BackoffMaxMs)*time.Millisecond,
	)
}
