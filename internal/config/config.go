package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Ingestion  IngestionConfig  `mapstructure:"ingestion"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`
	DLQ        DLQConfig        `mapstructure:"dlq"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// ProjectKey binds a DSN public key to a project. Loaded once at startup;
// the registry built from these is immutable for the process lifetime.
type ProjectKey struct {
	ProjectID int64  `mapstructure:"project_id"`
	PublicKey string `mapstructure:"public_key"`
}

type AuthConfig struct {
	Required bool         `mapstructure:"required"`
	Projects []ProjectKey `mapstructure:"projects"`
}

type IngestionConfig struct {
	MaxRequestSize    int           `mapstructure:"max_request_size"`
	RateLimitEnabled  bool          `mapstructure:"rate_limit_enabled"`
	RateLimitBackend  string        `mapstructure:"rate_limit_backend"` // "local" or "redis"
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
}

type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type EnrichmentConfig struct {
	GeoIPEnabled  bool   `mapstructure:"geoip_enabled"`
	GeoIPDatabase string `mapstructure:"geoip_database"`
	TagKeyMaxLen  int    `mapstructure:"tag_key_max_len"`
}

type BatchConfig struct {
	MaxEvents     int           `mapstructure:"max_events"`
	MaxBytes      int           `mapstructure:"max_bytes"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type DispatchConfig struct {
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
}

type OpenSearchConfig struct {
	URL             string `mapstructure:"url"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	TLSSkipVerify   bool   `mapstructure:"tls_skip_verify"`
	IndexPrefix     string `mapstructure:"index_prefix"`
	ShardCount      int    `mapstructure:"shard_count"`
	ReplicaCount    int    `mapstructure:"replica_count"`
	RefreshInterval string `mapstructure:"refresh_interval"`
	RetentionDays   int    `mapstructure:"retention_days"`
}

type DLQConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Backend  string `mapstructure:"backend"` // "file" or "jetstream"
	BasePath string `mapstructure:"base_path"`
	NatsURL  string `mapstructure:"nats_url"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("auth.required", true)
	v.SetDefault("ingestion.max_request_size", 5*1024*1024)
	v.SetDefault("ingestion.rate_limit_enabled", true)
	v.SetDefault("ingestion.rate_limit_backend", "local")
	v.SetDefault("ingestion.rate_limit_requests", 1000)
	v.SetDefault("ingestion.rate_limit_window", "1m")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("enrichment.geoip_enabled", false)
	v.SetDefault("enrichment.geoip_database", "")
	v.SetDefault("enrichment.tag_key_max_len", 32)
	v.SetDefault("batch.max_events", 100)
	v.SetDefault("batch.max_bytes", 1048576)
	v.SetDefault("batch.max_age", "5s")
	v.SetDefault("batch.sweep_interval", "1s")
	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.queue_size", 64)
	v.SetDefault("dispatch.max_attempts", 5)
	v.SetDefault("dispatch.initial_backoff", "500ms")
	v.SetDefault("dispatch.max_backoff", "30s")
	v.SetDefault("dispatch.attempt_timeout", "15s")
	v.SetDefault("dispatch.shutdown_grace", "30s")
	v.SetDefault("opensearch.url", "http://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.tls_skip_verify", false)
	v.SetDefault("opensearch.index_prefix", "sentry-events")
	v.SetDefault("opensearch.shard_count", 1)
	v.SetDefault("opensearch.replica_count", 0)
	v.SetDefault("opensearch.refresh_interval", "5s")
	v.SetDefault("opensearch.retention_days", 30)
	v.SetDefault("dlq.enabled", true)
	v.SetDefault("dlq.backend", "file")
	v.SetDefault("dlq.base_path", "/var/lib/sentrel/dlq")
	v.SetDefault("dlq.nats_url", "nats://localhost:4222")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/sentrel")
	}

	// Environment variables override
	v.SetEnvPrefix("SENTREL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
