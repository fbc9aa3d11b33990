// Package config loads topichub configuration.
//
// Precedence, highest first: runtime overrides, TOPICHUB_* environment
// variables, topichub.yaml (project root, then user config dirs), defaults.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/3leaps/topichub/pkg/encoder"
)

// Config is the complete application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Health  HealthConfig  `mapstructure:"health"`
	Debug   DebugConfig   `mapstructure:"debug"`
	Workers int           `mapstructure:"workers"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Store   StoreConfig   `mapstructure:"store"`
	Encoder EncoderConfig `mapstructure:"encoder"`
	Labeler LabelerConfig `mapstructure:"labeler"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// JobsConfig bounds admission, retention and the pipeline run.
type JobsConfig struct {
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	JobTTL           time.Duration `mapstructure:"job_ttl"`
	VectorTTL        time.Duration `mapstructure:"vector_ttl"`
	ResultTTL        time.Duration `mapstructure:"result_ttl"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MinTexts         int           `mapstructure:"min_texts"`
	MaxTexts         int           `mapstructure:"max_texts"`
	MaxTextLength    int           `mapstructure:"max_text_length"`
	BatchSize        int           `mapstructure:"batch_size"`
	LabelConcurrency int           `mapstructure:"label_concurrency"`
}

// StoreConfig selects the artifact store backend.
type StoreConfig struct {
	// Backend is memory, sqlite or s3.
	Backend   string        `mapstructure:"backend"`
	Namespace string        `mapstructure:"namespace"`
	SQLite    SQLiteConfig  `mapstructure:"sqlite"`
	S3        S3StoreConfig `mapstructure:"s3"`
}

type SQLiteConfig struct {
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

type S3StoreConfig struct {
	Bucket         string `mapstructure:"bucket"`
	Prefix         string `mapstructure:"prefix"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// EncoderConfig configures the encoder models offered to clients.
type EncoderConfig struct {
	// Backend is tfidf (offline) or openai (OpenAI-compatible /embeddings).
	Backend   string          `mapstructure:"backend"`
	Models    []encoder.Model `mapstructure:"models"`
	Dimension int             `mapstructure:"dimension"`
	BaseURL   string          `mapstructure:"base_url"`
	APIKeyEnv string          `mapstructure:"api_key_env"`
	Timeout   time.Duration   `mapstructure:"timeout"`
	RateLimit float64         `mapstructure:"rate_limit"`
}

// LabelerConfig configures cluster labeling.
type LabelerConfig struct {
	// Backend is auto, keywords or openai. auto uses openai when an API key
	// is available and keywords otherwise.
	Backend     string        `mapstructure:"backend"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKeyEnv   string        `mapstructure:"api_key_env"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Retries     int           `mapstructure:"retries"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RateLimit   float64       `mapstructure:"rate_limit"`
}

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreS3     = "s3"
)

// SetDefaults registers every default on v. Durations are strings so they
// read back unchanged through v.GetString.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "STRUCTURED")

	v.SetDefault("health.enabled", true)

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)

	v.SetDefault("workers", 4)

	v.SetDefault("jobs.max_concurrent", 3)
	v.SetDefault("jobs.job_ttl", "24h")
	v.SetDefault("jobs.vector_ttl", "168h")
	v.SetDefault("jobs.result_ttl", "168h")
	v.SetDefault("jobs.timeout", "600s")
	v.SetDefault("jobs.min_texts", 10)
	v.SetDefault("jobs.max_texts", 50000)
	v.SetDefault("jobs.max_text_length", 5000)
	v.SetDefault("jobs.batch_size", 64)
	v.SetDefault("jobs.label_concurrency", 4)

	v.SetDefault("store.backend", StoreMemory)
	v.SetDefault("store.namespace", "tdh:")
	v.SetDefault("store.sqlite.path", "topichub.db")

	v.SetDefault("encoder.backend", "tfidf")
	v.SetDefault("encoder.models", []map[string]any{{"model": "tfidf", "prefix": ""}})
	v.SetDefault("encoder.dimension", 512)
	v.SetDefault("encoder.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("encoder.timeout", "60s")

	v.SetDefault("labeler.backend", "auto")
	v.SetDefault("labeler.model", "gpt-4o")
	v.SetDefault("labeler.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("labeler.temperature", 0.3)
	v.SetDefault("labeler.max_tokens", 2000)
	v.SetDefault("labeler.retries", 3)
	v.SetDefault("labeler.timeout", "60s")
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	if c.Jobs.MaxConcurrent < 1 {
		return fmt.Errorf("jobs.max_concurrent must be >= 1, got %d", c.Jobs.MaxConcurrent)
	}
	if c.Jobs.ResultTTL < c.Jobs.VectorTTL {
		return fmt.Errorf("jobs.result_ttl (%s) must be >= jobs.vector_ttl (%s)", c.Jobs.ResultTTL, c.Jobs.VectorTTL)
	}
	if c.Jobs.MinTexts > c.Jobs.MaxTexts {
		return fmt.Errorf("jobs.min_texts (%d) exceeds jobs.max_texts (%d)", c.Jobs.MinTexts, c.Jobs.MaxTexts)
	}
	switch c.Store.Backend {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.SQLite.Path == "" && c.Store.SQLite.URL == "" {
			return fmt.Errorf("store.sqlite.path or store.sqlite.url is required")
		}
	case StoreS3:
		if c.Store.S3.Bucket == "" {
			return fmt.Errorf("store.s3.bucket is required")
		}
	default:
		return fmt.Errorf("unknown store.backend %q (want memory, sqlite or s3)", c.Store.Backend)
	}
	switch c.Encoder.Backend {
	case "tfidf", "openai":
	default:
		return fmt.Errorf("unknown encoder.backend %q (want tfidf or openai)", c.Encoder.Backend)
	}
	if len(c.Encoder.Models) == 0 {
		return fmt.Errorf("encoder.models must list at least one model")
	}
	switch c.Labeler.Backend {
	case "auto", "keywords", "openai":
	default:
		return fmt.Errorf("unknown labeler.backend %q (want auto, keywords or openai)", c.Labeler.Backend)
	}
	return nil
}
