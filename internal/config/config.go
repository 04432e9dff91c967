package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"offer-sync-alerts/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. OFFERSYNC_UPSTREAM_TOKEN.
const EnvPrefix = "OFFERSYNC"

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Lock      LockConfig      `mapstructure:"lock"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// UpstreamConfig points at the offer listing API.
type UpstreamConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Token             string        `mapstructure:"token"`
	PageSize          int           `mapstructure:"page_size"`
	MaxPages          int           `mapstructure:"max_pages"`
	BatchSize         int           `mapstructure:"batch_size"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	Status            string        `mapstructure:"status"`
	Country           string        `mapstructure:"country"`
	Verticals         string        `mapstructure:"verticals"`
	Flows             string        `mapstructure:"flows"`
	SortByPerformance bool          `mapstructure:"sort_by_performance"`
}

// CrawlerConfig bounds fan-out and retry behaviour.
type CrawlerConfig struct {
	Concurrency       int           `mapstructure:"concurrency"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
}

// AlertingConfig defines rule thresholds and routing.
type AlertingConfig struct {
	Enabled               bool           `mapstructure:"enabled"`
	ThresholdMinutes      float64        `mapstructure:"threshold_minutes"`
	MultipleThreshold     float64        `mapstructure:"multiple_threshold"`
	DisappearBelowMinutes float64        `mapstructure:"disappear_below_minutes"`
	SurgeBelowMinutes     float64        `mapstructure:"surge_below_minutes"`
	DedupWindow           time.Duration  `mapstructure:"dedup_window"`
	MaxConcurrentSends    int            `mapstructure:"max_concurrent_sends"`
	Telegram              TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram channel.
type TelegramConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BotToken    string        `mapstructure:"bot_token"`
	ChatID      string        `mapstructure:"chat_id"`
	APIEndpoint string        `mapstructure:"api_endpoint"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// LockConfig tunes the sync lease.
type LockConfig struct {
	Key             string        `mapstructure:"key"`
	TTL             time.Duration `mapstructure:"ttl"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// QueueConfig sets job defaults and worker polling.
type QueueConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Backoff      time.Duration `mapstructure:"backoff"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ChunkSize    int           `mapstructure:"chunk_size"`
	BusyDelay    time.Duration `mapstructure:"busy_delay"`
}

// SchedulerConfig governs enqueue cadence.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
	EnqueueFull   bool          `mapstructure:"enqueue_full"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotEnv reads ./.env if present. Variables already set win.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "offersync")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("upstream.base_url", "https://affiliates.mobipium.com/api/cpa/findmyoffers")
	v.SetDefault("upstream.token", "")
	v.SetDefault("upstream.page_size", 100)
	v.SetDefault("upstream.max_pages", 120)
	v.SetDefault("upstream.batch_size", 50)
	v.SetDefault("upstream.request_timeout", "30s")
	v.SetDefault("upstream.user_agent", "offersync/1.0")
	v.SetDefault("upstream.status", "Active")
	v.SetDefault("upstream.country", "")
	v.SetDefault("upstream.verticals", "")
	v.SetDefault("upstream.flows", "")
	v.SetDefault("upstream.sort_by_performance", true)

	v.SetDefault("crawler.concurrency", 10)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.base_delay", "1s")
	v.SetDefault("crawler.backoff_multiplier", 2.0)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.threshold_minutes", 10.0)
	v.SetDefault("alerting.multiple_threshold", 5.0)
	v.SetDefault("alerting.disappear_below_minutes", 30.0)
	v.SetDefault("alerting.surge_below_minutes", 1.0)
	v.SetDefault("alerting.dedup_window", "24h")
	v.SetDefault("alerting.max_concurrent_sends", 5)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_endpoint", "https://api.telegram.org/bot%s/%s")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("lock.key", "offer-sync")
	v.SetDefault("lock.ttl", "10m")
	v.SetDefault("lock.refresh_interval", "1m")

	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff", "2s")
	v.SetDefault("queue.timeout", "15m")
	v.SetDefault("queue.poll_interval", "1s")
	v.SetDefault("queue.chunk_size", 10)
	v.SetDefault("queue.busy_delay", "30s")

	v.SetDefault("scheduler.interval", "2m")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.enqueue_full", true)

	v.SetDefault("export.max_data_points", 10000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch {
	case c.Upstream.PageSize <= 0:
		return fmt.Errorf("upstream.page_size must be greater than zero")
	case c.Upstream.MaxPages <= 0:
		return fmt.Errorf("upstream.max_pages must be greater than zero")
	case c.Upstream.BatchSize <= 0 || c.Upstream.BatchSize > 50:
		return fmt.Errorf("upstream.batch_size must be between 1 and 50")
	case c.Crawler.Concurrency <= 0:
		return fmt.Errorf("crawler.concurrency must be greater than zero")
	case c.Crawler.MaxRetries < 0:
		return fmt.Errorf("crawler.max_retries cannot be negative")
	case c.Crawler.BackoffMultiplier < 1:
		return fmt.Errorf("crawler.backoff_multiplier must be at least 1")
	case c.Alerting.ThresholdMinutes < 0:
		return fmt.Errorf("alerting.threshold_minutes cannot be negative")
	case c.Alerting.MultipleThreshold <= 1:
		return fmt.Errorf("alerting.multiple_threshold must be greater than 1")
	case c.Alerting.DedupWindow <= 0:
		return fmt.Errorf("alerting.dedup_window must be greater than zero")
	case c.Alerting.MaxConcurrentSends <= 0:
		return fmt.Errorf("alerting.max_concurrent_sends must be greater than zero")
	case c.Lock.Key == "":
		return fmt.Errorf("lock.key must be set")
	case c.Lock.TTL <= 0:
		return fmt.Errorf("lock.ttl must be greater than zero")
	case c.Lock.RefreshInterval <= 0 || c.Lock.RefreshInterval >= c.Lock.TTL:
		return fmt.Errorf("lock.refresh_interval must be positive and shorter than lock.ttl")
	case c.Queue.MaxAttempts <= 0:
		return fmt.Errorf("queue.max_attempts must be greater than zero")
	case c.Queue.Timeout <= 0:
		return fmt.Errorf("queue.timeout must be greater than zero")
	case c.Queue.PollInterval <= 0:
		return fmt.Errorf("queue.poll_interval must be greater than zero")
	case c.Queue.ChunkSize <= 0:
		return fmt.Errorf("queue.chunk_size must be greater than zero")
	case c.Scheduler.Interval <= 0:
		return fmt.Errorf("scheduler.interval must be greater than zero")
	case c.Export.MaxDataPoints <= 0:
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
