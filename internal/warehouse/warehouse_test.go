package warehouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/clickstream-segments/internal/config"
)

func TestDSN_AppendsTimeouts(t *testing.T) {
	cfg := config.DatabaseConfig{
		URL:                   "postgres://localhost:5432/clickstream",
		ConnectTimeoutSeconds: 5,
		StatementTimeoutMs:    15000,
	}

	dsn := DSN(cfg)
	assert.Contains(t, dsn, "?connect_timeout=5")
	assert.Contains(t, dsn, "options=-c+statement_timeout%3D15000")
}

func TestDSN_PreservesExistingQuery(t *testing.T) {
	cfg := config.DatabaseConfig{
		URL:                   "postgres://localhost/clickstream?sslmode=disable",
		ConnectTimeoutSeconds: 3,
		StatementTimeoutMs:    5000,
	}

	dsn := DSN(cfg)
	assert.Contains(t, dsn, "sslmode=disable&connect_timeout=3")
}

func TestDSN_DoesNotDuplicateConnectTimeout(t *testing.T) {
	cfg := config.DatabaseConfig{
		URL:                   "postgres://localhost/clickstream?connect_timeout=9",
		ConnectTimeoutSeconds: 3,
		StatementTimeoutMs:    5000,
	}

	dsn := DSN(cfg)
	assert.Contains(t, dsn, "connect_timeout=9")
	assert.NotContains(t, dsn, "connect_timeout=3")
}

func TestOpen_RequiresURL(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url is required")
}
