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
	Auth      AuthConfig      `mapstructure:"auth"`
	Bulk      BulkConfig      `mapstructure:"bulk"`
	Autosave  AutosaveConfig  `mapstructure:"autosave"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	Generator GeneratorConfig `mapstructure:"generator"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Export    ExportConfig    `mapstructure:"export"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BulkConfig governs the bulk job scheduler.
type BulkConfig struct {
	MaxURLsPerJob     int    `mapstructure:"max_urls_per_job"`
	MaxActivePerUser  int    `mapstructure:"max_active_per_user"`
	MaxConcurrentJobs int    `mapstructure:"max_concurrent_jobs"`
	RetentionDays     int    `mapstructure:"retention_days"`
	SweepSchedule     string `mapstructure:"sweep_schedule"`
	PacerRPS          int    `mapstructure:"pacer_rps"`
	PacerBurst        int    `mapstructure:"pacer_burst"`
	CompletionTopic   string `mapstructure:"completion_topic"`
}

// AutosaveConfig governs draft autosave and history retention.
type AutosaveConfig struct {
	HistoryCap      int    `mapstructure:"history_cap"`
	CleanupSchedule string `mapstructure:"cleanup_schedule"`
}

// RealtimeConfig toggles the websocket collaboration layer.
type RealtimeConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ScrapeConfig configures page fetching.
type ScrapeConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// GeneratorConfig points at the markup generation service.
type GeneratorConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DBConfig controls access to the relational activity store. An empty DSN
// disables Postgres persistence.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime_seconds"`
}

// PubSubConfig holds metadata for completion notifications. An empty
// project disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ExportConfig selects where archived exports land.
type ExportConfig struct {
	// Backend is memory, local or gcs.
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCHEMASMITH")
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
	v.SetDefault("bulk.max_urls_per_job", 100)
	v.SetDefault("bulk.max_active_per_user", 3)
	v.SetDefault("bulk.max_concurrent_jobs", 5)
	v.SetDefault("bulk.retention_days", 7)
	v.SetDefault("bulk.sweep_schedule", "@every 1h")
	v.SetDefault("bulk.pacer_rps", 2)
	v.SetDefault("bulk.pacer_burst", 4)
	v.SetDefault("bulk.completion_topic", "bulk-job-completions")
	v.SetDefault("autosave.history_cap", 50)
	v.SetDefault("autosave.cleanup_schedule", "@every 1h")
	v.SetDefault("realtime.enabled", true)
	v.SetDefault("scrape.user_agent", "schemasmith-bot/0.1")
	v.SetDefault("scrape.timeout_seconds", 15)
	v.SetDefault("scrape.max_body_bytes", 65536)
	v.SetDefault("generator.timeout_seconds", 30)
	v.SetDefault("export.backend", "memory")
	v.SetDefault("export.prefix", "exports")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Bulk.MaxURLsPerJob <= 0 {
		return fmt.Errorf("bulk.max_urls_per_job must be > 0")
	}
	if c.Bulk.MaxActivePerUser <= 0 {
		return fmt.Errorf("bulk.max_active_per_user must be > 0")
	}
	if c.Bulk.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("bulk.max_concurrent_jobs must be > 0")
	}
	if c.Bulk.RetentionDays <= 0 {
		return fmt.Errorf("bulk.retention_days must be > 0")
	}
	if c.Autosave.HistoryCap <= 0 {
		return fmt.Errorf("autosave.history_cap must be > 0")
	}
	if c.Scrape.TimeoutSeconds <= 0 {
		return fmt.Errorf("scrape.timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Export.Backend {
	case "memory", "gcs":
	case "local":
		if c.Export.BaseDir == "" {
			return fmt.Errorf("export.base_dir must be set for the local backend")
		}
	default:
		return fmt.Errorf("export.backend must be memory, local or gcs")
	}
	if c.Export.Backend == "gcs" && c.Export.GCSBucket == "" {
		return fmt.Errorf("export.gcs_bucket must be set for the gcs backend")
	}
	return nil
}

// ScrapeTimeout converts the configured scrape timeout into a duration.
func (c Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.Scrape.TimeoutSeconds) * time.Second
}

// GeneratorTimeout converts the configured generator timeout into a duration.
func (c Config) GeneratorTimeout() time.Duration {
	return time.Duration(c.Generator.TimeoutSeconds) * time.Second
}

// Retention converts retention days into a duration.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Bulk.RetentionDays) * 24 * time.Hour
}
