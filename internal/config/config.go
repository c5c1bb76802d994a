// Package config loads application configuration from YAML with optional
// environment-variable overrides for deployment secrets.
package config

import (
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Preview  PreviewConfig  `yaml:"preview"`
}

// DatabaseConfig holds the event warehouse connection settings
type DatabaseConfig struct {
	URL                   string `yaml:"url"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
	StatementTimeoutMs    int    `yaml:"statement_timeout_ms"`
	MaxOpenConns          int    `yaml:"max_open_conns"`
}

// RedisConfig holds the statistics cache settings
type RedisConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Addr            string `yaml:"addr"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	StatsTTLSeconds int    `yaml:"stats_ttl_seconds"`
}

// CatalogConfig points at the field catalog definition; empty means the
// built-in clickstream catalog.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// PreviewConfig holds live-preview behavior settings
type PreviewConfig struct {
	SampleLimit int `yaml:"sample_limit"`
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadFromEnv loads configuration from a YAML file, then overrides secrets
// from environment variables (with .env support for local development).
func LoadFromEnv(path string) (*Config, error) {
	// Load .env if present (ignore errors; it's optional)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if catalogPath := os.Getenv("CATALOG_PATH"); catalogPath != "" {
		cfg.Catalog.Path = catalogPath
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Database.ConnectTimeoutSeconds == 0 {
		cfg.Database.ConnectTimeoutSeconds = 5
	}
	if cfg.Database.StatementTimeoutMs == 0 {
		cfg.Database.StatementTimeoutMs = 15000
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.StatsTTLSeconds == 0 {
		cfg.Redis.StatsTTLSeconds = 60
	}
	if cfg.Preview.SampleLimit == 0 {
		cfg.Preview.SampleLimit = 10
	}
}
