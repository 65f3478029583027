// Package config loads and validates workbench configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage providers accepted by storage.provider.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Progress ProgressConfig `mapstructure:"progress"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                int `mapstructure:"port"`
	ReadTimeoutSeconds  int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds"`
	// RequestTimeoutSeconds bounds each /api request.
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// PoolConfig bounds the named task pool.
type PoolConfig struct {
	// MaxWorkers of zero lets the pool pick 2×NumCPU.
	MaxWorkers             int `mapstructure:"max_workers"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// ProgressConfig tunes the telemetry hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutMs  int `mapstructure:"sink_timeout_ms"`
}

// StorageConfig selects the run repository.
type StorageConfig struct {
	Provider string `mapstructure:"provider"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	Migrate                bool   `mapstructure:"migrate"`
}

// PubSubConfig holds metadata for run completion notifications. An empty
// project disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// CacheConfig sizes the file info cache.
type CacheConfig struct {
	MaxSize    int `mapstructure:"max_size"`
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WORKBENCH")
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
	v.SetDefault("server.read_timeout_seconds", 10)
	v.SetDefault("server.write_timeout_seconds", 30)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("pool.max_workers", 0)
	v.SetDefault("pool.shutdown_timeout_seconds", 15)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait_ms", 250)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("storage.provider", StorageMemory)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.migrate", true)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_id", "task-runs")
	v.SetDefault("cache.max_size", 1000)
	v.SetDefault("cache.ttl_seconds", 300)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pool.MaxWorkers < 0 {
		return fmt.Errorf("pool.max_workers must be >= 0")
	}
	switch c.Storage.Provider {
	case StorageMemory:
	case StoragePostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when storage.provider is %q", StoragePostgres)
		}
	default:
		return fmt.Errorf("storage.provider must be %q or %q, got %q", StorageMemory, StoragePostgres, c.Storage.Provider)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicID == "" {
		return fmt.Errorf("pubsub.topic_id must be set when pubsub.project_id is set")
	}
	if c.Cache.MaxSize < 0 {
		return fmt.Errorf("cache.max_size must be >= 0")
	}
	if c.Server.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("server.request_timeout_seconds must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// ShutdownTimeout is the grace period given to running tasks on shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Pool.ShutdownTimeoutSeconds) * time.Second
}

// RequestTimeout converts server.request_timeout_seconds to a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// CacheTTL converts cache.ttl_seconds to a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// ConnLifetime converts db.max_conn_lifetime_minutes to a duration.
func (c Config) ConnLifetime() time.Duration {
	return time.Duration(c.DB.MaxConnLifetimeMinutes) * time.Minute
}

// HubTimings converts the progress millisecond knobs to durations.
func (c Config) HubTimings() (batchWait, sinkTimeout time.Duration) {
	return time.Duration(c.Progress.MaxBatchWaitMs) * time.Millisecond,
		time.Duration(c.Progress.SinkTimeoutMs) * time.Millisecond
}
