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
	Server   ServerConfig   `mapstructure:"server"`
	Origin   OriginConfig   `mapstructure:"origin"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Index    IndexConfig    `mapstructure:"index"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// OriginConfig points at the upstream resource host.
type OriginConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// CacheConfig governs the cache chain.
type CacheConfig struct {
	TTLSeconds      int    `mapstructure:"ttl_seconds"`
	Schema          string `mapstructure:"schema"`
	AwaitPromotions bool   `mapstructure:"await_promotions"`
	RedisAddr       string `mapstructure:"redis_addr"`
	RedisPassword   string `mapstructure:"redis_password"`
	RedisDB         int    `mapstructure:"redis_db"`
	RedisPrefix     string `mapstructure:"redis_prefix"`
}

// StorageConfig selects the durable object store.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"` // memory | local | gcs
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// QueueConfig selects the queue provider and names the Pub/Sub resources.
type QueueConfig struct {
	Provider  string `mapstructure:"provider"` // memory | pubsub
	ProjectID string `mapstructure:"project_id"`

	UnzipTopic        string `mapstructure:"unzip_topic"`
	UnzipSubscription string `mapstructure:"unzip_subscription"`
	IndexTopic        string `mapstructure:"index_topic"`
	IndexSubscription string `mapstructure:"index_subscription"`

	UnzipDeadLetterTopic        string `mapstructure:"unzip_dead_letter_topic"`
	UnzipDeadLetterSubscription string `mapstructure:"unzip_dead_letter_subscription"`
	IndexDeadLetterTopic        string `mapstructure:"index_dead_letter_topic"`
	IndexDeadLetterSubscription string `mapstructure:"index_dead_letter_subscription"`

	EventsTopic        string `mapstructure:"events_topic"`
	EventsSubscription string `mapstructure:"events_subscription"`
}

// PipelineConfig carries the operational retry parameters.
type PipelineConfig struct {
	BatchSize     int `mapstructure:"batch_size"`
	MaxAttempts   int `mapstructure:"max_attempts"`
	BackoffBaseMs int `mapstructure:"backoff_base_ms"`
	BackoffMaxMs  int `mapstructure:"backoff_max_ms"`
}

// IndexConfig selects the search index backend.
type IndexConfig struct {
	Provider string `mapstructure:"provider"` // memory | postgres
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// SyncConfig governs batch sync parallelism.
type SyncConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HELPSERVER")
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
	v.SetDefault("origin.base_url", "https://git.door43.org")
	v.SetDefault("origin.timeout_seconds", 30)
	v.SetDefault("origin.rate_limit_rps", 0)
	v.SetDefault("origin.rate_limit_burst", 1)
	v.SetDefault("cache.ttl_seconds", 86400)
	v.SetDefault("cache.schema", "v3")
	v.SetDefault("cache.await_promotions", false)
	v.SetDefault("cache.redis_prefix", "helpserver")
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("queue.provider", "memory")
	v.SetDefault("queue.unzip_topic", "helpserver-unzip")
	v.SetDefault("queue.unzip_subscription", "helpserver-unzip-sub")
	v.SetDefault("queue.index_topic", "helpserver-index")
	v.SetDefault("queue.index_subscription", "helpserver-index-sub")
	v.SetDefault("queue.unzip_dead_letter_topic", "helpserver-unzip-dlq")
	v.SetDefault("queue.unzip_dead_letter_subscription", "helpserver-unzip-dlq-sub")
	v.SetDefault("queue.index_dead_letter_topic", "helpserver-index-dlq")
	v.SetDefault("queue.index_dead_letter_subscription", "helpserver-index-dlq-sub")
	v.SetDefault("queue.events_topic", "helpserver-storage-events")
	v.SetDefault("queue.events_subscription", "helpserver-storage-events-sub")
	v.SetDefault("pipeline.batch_size", 8)
	v.SetDefault("pipeline.max_attempts", 5)
	v.SetDefault("pipeline.backoff_base_ms", 250)
	v.SetDefault("pipeline.backoff_max_ms", 30000)
	v.SetDefault("index.provider", "memory")
	v.SetDefault("index.table", "search_documents")
	v.SetDefault("sync.concurrency", 4)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Origin.BaseURL == "" {
		return fmt.Errorf("origin.base_url is required")
	}
	if c.Origin.TimeoutSeconds <= 0 {
		return fmt.Errorf("origin.timeout_seconds must be > 0")
	}
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be > 0")
	}
	switch c.Storage.Provider {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required when storage.provider is local")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required when storage.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	switch c.Queue.Provider {
	case "memory":
	case "pubsub":
		if c.Queue.ProjectID == "" {
			return fmt.Errorf("queue.project_id is required when queue.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown queue.provider %q", c.Queue.Provider)
	}
	switch c.Index.Provider {
	case "memory":
	case "postgres":
		if c.Index.DSN == "" {
			return fmt.Errorf("index.dsn is required when index.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown index.provider %q", c.Index.Provider)
	}
	if c.Pipeline.MaxAttempts <= 0 {
		return fmt.Errorf("pipeline.max_attempts must be > 0")
	}
	if c.Sync.Concurrency <= 0 {
		return fmt.Errorf("sync.concurrency must be > 0")
	}
	return nil
}

// OriginTimeout converts the configured origin timeout into a duration.
func (c Config) OriginTimeout() time.Duration {
	return time.Duration(c.Origin.TimeoutSeconds) * time.Second
}

// CacheTTL converts the configured cache TTL into a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// RunnerBackoffBase converts the configured backoff base into a duration.
func (c Config) RunnerBackoffBase() time.Duration {
	return time.Duration(c.Pipeline.BackoffBaseMs) * time.Millisecond
}

// RunnerBackoffMax converts the configured backoff cap into a duration.
func (c Config) RunnerBackoffMax() time.Duration {
	return time.Duration(c.Pipeline.BackoffMaxMs) * time.Millisecond
}
