// Package config loads and validates the Aura configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for Aura.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	LLM       LLMConfig       `yaml:"llm"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type ServerConfig struct {
	Host     string `yaml:"host"`
	HTTPPort int    `yaml:"http_port"`
}

type DatabaseConfig struct {
	// URL selects the driver by scheme: "postgres://..." uses Postgres,
	// anything else is treated as a SQLite file path.
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`

	// EncryptionKey protects provider API keys at rest (hex or raw string,
	// 32 bytes after decoding).
	EncryptionKey string `yaml:"encryption_key"`
}

type LLMConfig struct {
	// ServerURL is the base URL of the provider-abstracting LLM service.
	// The AURA_LLM_SERVER_URL / LLM_SERVER_URL environment variables win
	// over this value.
	ServerURL string `yaml:"server_url"`

	// RequestTimeout bounds one streaming call end-to-end.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// DefaultAssignments seed role assignments for users who have not
	// chosen models yet, as "provider/model" strings keyed by role.
	DefaultAssignments map[string]string `yaml:"default_assignments"`

	// DefaultTemperature applies when an assignment does not set one.
	DefaultTemperature float64 `yaml:"default_temperature"`
}

type WorkspaceConfig struct {
	// DataDir is the root under which per-user workspaces live
	// ({data_dir}/{user_id}/{project}).
	DataDir string `yaml:"data_dir"`
}

type IndexerConfig struct {
	// EmbeddingModel names the OpenAI embedding model for the context index.
	EmbeddingModel string `yaml:"embedding_model"`

	// SweepSchedule is a cron expression for the periodic full re-index
	// that reconciles drift from shell commands. Empty disables the sweep.
	SweepSchedule string `yaml:"sweep_schedule"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	// Endpoint is the OTLP gRPC collector address; empty disables tracing.
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)

	return &cfg, nil
}

// Default returns a configuration without reading a file. Used when no
// config path is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8000
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = "aura.db"
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}
	if cfg.LLM.RequestTimeout == 0 {
		cfg.LLM.RequestTimeout = 300 * time.Second
	}
	if cfg.LLM.DefaultTemperature == 0 {
		cfg.LLM.DefaultTemperature = 0.7
	}
	if cfg.Workspace.DataDir == "" {
		cfg.Workspace.DataDir = "/data"
	}
	if cfg.Indexer.EmbeddingModel == "" {
		cfg.Indexer.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}

// applyEnv overlays environment variables that outrank file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("AURA_LLM_SERVER_URL"); v != "" {
		cfg.LLM.ServerURL = v
	} else if v := os.Getenv("LLM_SERVER_URL"); v != "" {
		cfg.LLM.ServerURL = v
	}
	if v := os.Getenv("AURA_DATA_DIR"); v != "" {
		cfg.Workspace.DataDir = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("JWT_SECRET_KEY"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		cfg.Auth.EncryptionKey = v
	}
}

// Validate checks the settings a running server cannot do without.
func (c *Config) Validate() error {
	if c.LLM.ServerURL == "" {
		return fmt.Errorf("llm.server_url is required (set LLM_SERVER_URL)")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (set JWT_SECRET_KEY)")
	}
	if c.Auth.EncryptionKey == "" {
		return fmt.Errorf("auth.encryption_key is required (set ENCRYPTION_KEY)")
	}
	return nil
}
