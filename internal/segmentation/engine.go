package segmentation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// statsCachePrefix namespaces statistics cache keys in Redis.
const statsCachePrefix = "segstats:"

// Engine computes statistics and previews for compiled segments. It treats
// the SQL store as an external collaborator behind database/sql and never
// lets an execution failure escape a preview path.
type Engine struct {
	db       *sql.DB
	catalog  *Catalog
	cache    *redis.Client
	cacheTTL time.Duration
}

// NewEngine creates an engine over the given database and field catalog.
func NewEngine(db *sql.DB, catalog *Catalog) *Engine {
	return &Engine{db: db, catalog: catalog}
}

// SetCache enables best-effort Redis caching of statistics keyed by the
// definition hash. Cache failures are ignored; the database is authoritative.
func (e *Engine) SetCache(client *redis.Client, ttl time.Duration) {
	e.cache = client
	e.cacheTTL = ttl
}

// Compile returns the row-selecting SQL and bound args for a definition.
func (e *Engine) Compile(def SegmentDefinition) (string, []interface{}, error) {
	return NewQueryBuilder(e.catalog).BuildQuery(def)
}

// Stats computes match counts at hit, session, and visitor grain, plus
// population totals. It never returns an error: a compile or execution
// failure yields zeroed statistics with the failure text in Error, so a
// live preview surface degrades instead of crashing.
func (e *Engine) Stats(ctx context.Context, def SegmentDefinition) Statistics {
	key := statsCachePrefix + def.Hash()
	if cached, ok := e.cacheGet(ctx, key); ok {
		return cached
	}

	qb := NewQueryBuilder(e.catalog)

	query, args, err := qb.BuildStatsQuery(def)
	if err != nil {
		return Statistics{Error: err.Error()}
	}

	var stats Statistics
	if err := e.db.QueryRowContext(ctx, query, args...).
		Scan(&stats.Hits, &stats.Sessions, &stats.Visitors); err != nil {
		return Statistics{Error: err.Error()}
	}

	if err := e.db.QueryRowContext(ctx, qb.BuildTotalsQuery()).
		Scan(&stats.TotalHits, &stats.TotalSessions, &stats.TotalVisitors); err != nil {
		return Statistics{Error: err.Error()}
	}

	e.cacheSet(ctx, key, stats)
	return stats
}

// Preview returns a bounded sample of matching events, newest first, along
// with the generated SQL for debug surfaces.
func (e *Engine) Preview(ctx context.Context, def SegmentDefinition, limit int) (*Preview, error) {
	if limit <= 0 {
		limit = 10
	}

	query, args, err := NewQueryBuilder(e.catalog).BuildQuery(def)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	var sample []EventRow
	for rows.Next() {
		row, err := scanEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		sample = append(sample, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	return &Preview{
		Rows:         sample,
		SQL:          query,
		CalculatedAt: time.Now(),
	}, nil
}

// MatchesUser reports whether any event of the given user falls inside the
// segment, for real-time membership checks.
func (e *Engine) MatchesUser(ctx context.Context, def SegmentDefinition, userID string) (bool, error) {
	query, args, err := NewQueryBuilder(e.catalog).BuildMatchQuery(def, userID)
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}
	var matches bool
	if err := e.db.QueryRowContext(ctx, query, args...).Scan(&matches); err != nil {
		return false, fmt.Errorf("match query: %w", err)
	}
	return matches, nil
}

func scanEventRow(rows *sql.Rows) (EventRow, error) {
	var row EventRow
	var url, pageTitle, referrer, deviceType, browser, osName sql.NullString
	var country, city, campaign sql.NullString
	var duration, revenue sql.NullFloat64

	err := rows.Scan(&row.HitID, &row.UserID, &row.SessionID, &row.EventTime,
		&url, &pageTitle, &referrer, &deviceType, &browser, &osName,
		&country, &city, &campaign, &duration, &revenue)
	if err != nil {
		return EventRow{}, err
	}

	row.URL = url.String
	row.PageTitle = pageTitle.String
	row.Referrer = referrer.String
	row.DeviceType = deviceType.String
	row.Browser = browser.String
	row.OS = osName.String
	row.Country = country.String
	row.City = city.String
	row.Campaign = campaign.String
	row.DurationSeconds = duration.Float64
	row.Revenue = revenue.Float64
	return row, nil
}

// ==========================================
// STATS CACHE
// ==========================================

func (e *Engine) cacheGet(ctx context.Context, key string) (Statistics, bool) {
	if e.cache == nil {
		return Statistics{}, false
	}
	payload, err := e.cache.Get(ctx, key).Bytes()
	if err != nil {
		return Statistics{}, false
	}
	var stats Statistics
	if err := json.Unmarshal(payload, &stats); err != nil {
		return Statistics{}, false
	}
	return stats, true
}

func (e *Engine) cacheSet(ctx context.Context, key string, stats Statistics) {
	if e.cache == nil {
		return
	}
	payload, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, payload, e.cacheTTL).Err(); err != nil {
		log.Printf("segmentation: stats cache write failed: %v", err)
	}
}

// ==========================================
// PREVIEW SUPERSESSION
// ==========================================

// PreviewSession serializes preview freshness for one editing session:
// starting a new preview cancels the context of the in-flight one, so the
// most recent request's result is what gets shown.
type PreviewSession struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

// Supersede cancels any in-flight preview and returns the context the new
// preview should run under.
func (p *PreviewSession) Supersede(ctx context.Context) context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	ctx, p.cancel = context.WithCancel(ctx)
	return ctx
}

// Close cancels the in-flight preview, if any.
func (p *PreviewSession) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}
