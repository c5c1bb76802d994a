// Package warehouse opens the PostgreSQL event warehouse connection for the
// segmentation core, which itself never opens connections.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/ignite/clickstream-segments/internal/config"
)

// Open connects to the event warehouse and verifies the connection with a
// bounded ping. Connect and statement timeouts from the config are appended
// to the URL so a wedged warehouse cannot hang a preview indefinitely.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}

	db, err := sql.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	pingCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ConnectTimeoutSeconds)*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping warehouse: %w", err)
	}

	return db, nil
}

// DSN returns the connection URL with timeout options applied.
func DSN(cfg config.DatabaseConfig) string {
	dbURL := cfg.URL
	sep := "?"
	if strings.Contains(dbURL, "?") {
		sep = "&"
	}
	if !strings.Contains(dbURL, "connect_timeout") {
		dbURL += fmt.Sprintf("%sconnect_timeout=%d", sep, cfg.ConnectTimeoutSeconds)
		sep = "&"
	}
	options := fmt.Sprintf("-c statement_timeout=%d", cfg.StatementTimeoutMs)
	dbURL += sep + "options=" + url.QueryEscape(options)
	return dbURL
}
