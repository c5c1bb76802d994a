package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
database:
  url: "postgres://localhost:5432/clickstream?sslmode=disable"
  connect_timeout_seconds: 3
  max_open_conns: 25

redis:
  enabled: true
  addr: "cache:6379"
  stats_ttl_seconds: 120

catalog:
  path: "./catalog.yaml"

preview:
  sample_limit: 50
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost:5432/clickstream?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, 3, cfg.Database.ConnectTimeoutSeconds)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)

	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, 120, cfg.Redis.StatsTTLSeconds)

	assert.Equal(t, "./catalog.yaml", cfg.Catalog.Path)
	assert.Equal(t, 50, cfg.Preview.SampleLimit)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
database:
  url: "postgres://localhost/clickstream"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Database.ConnectTimeoutSeconds)
	assert.Equal(t, 15000, cfg.Database.StatementTimeoutMs)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 60, cfg.Redis.StatsTTLSeconds)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 10, cfg.Preview.SampleLimit)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "database: [not a mapping")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	path := writeConfig(t, `
database:
  url: "postgres://file-config/clickstream"
`)

	t.Setenv("DATABASE_URL", "postgres://env-config/clickstream")
	t.Setenv("REDIS_ADDR", "env-cache:6379")
	t.Setenv("CATALOG_PATH", "/etc/segments/catalog.yaml")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env-config/clickstream", cfg.Database.URL)
	assert.Equal(t, "env-cache:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "/etc/segments/catalog.yaml", cfg.Catalog.Path)
}
