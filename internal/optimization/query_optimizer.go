// Package optimization implements the Query Optimizer (spec §4.7): query
// result caching, prepared-statement caching, and IN-clause batching layered
// over the per-system SQLite vocabulary indexes.
package optimization

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
)

// defaultBatchThreshold is the maximum number of terms placed in a single
// IN-clause before BatchLookupNormalized splits the request into chunks
// (spec §4.7).
const defaultBatchThreshold = 32

// defaultQueryCacheSize bounds the query result cache, evicted LRU once
// full rather than growing without bound.
const defaultQueryCacheSize = 2000

// QueryOptimizerConfig configures caching, prepared statements, and
// batching for the vocabulary query optimizer.
type QueryOptimizerConfig struct {
	// DBs holds one *sql.DB per coding system, obtained from
	// vocabulary.Store.DB.
	DBs map[domain.System]*sql.DB
	// EnableQueryCache toggles the result cache.
	EnableQueryCache bool
	// QueryCacheTTL is how long a cached result stays valid.
	QueryCacheTTL time.Duration
	// EnablePreparedStatements toggles the prepared-statement cache.
	EnablePreparedStatements bool
	// MaxPreparedStatements bounds the prepared-statement cache size.
	MaxPreparedStatements int
	// EnableQueryStats toggles statistics collection.
	EnableQueryStats bool
	// SlowQueryThreshold marks a query as slow for stats purposes.
	SlowQueryThreshold time.Duration
	// BatchThreshold is the max terms per IN-clause chunk.
	BatchThreshold int
	// QueryCacheSize bounds the number of cached query results.
	QueryCacheSize int
}

// QueryOptimizer implements domain.QueryOptimizer over one SQLite handle
// per coding system.
type QueryOptimizer struct {
	config QueryOptimizerConfig

	queryCache *lru.Cache

	preparedStmts      map[string]*sql.Stmt
	preparedStmtsMutex sync.RWMutex

	queryStats      QueryStats
	queryStatsMutex sync.RWMutex
}

// CachedQuery represents a cached database query result.
type CachedQuery struct {
	Query     string
	Args      []interface{}
	Result    []QueryResult
	CreatedAt time.Time
	ExpiresAt time.Time
	HitCount  int64
	Duration  time.Duration
}

// QueryResult represents a single row result from a database query.
type QueryResult struct {
	Columns []string
	Values  []interface{}
	Data    map[string]interface{}
}

// QueryStats tracks query performance metrics.
type QueryStats struct {
	TotalQueries      int64
	CachedQueries     int64
	SlowQueries       int64
	FailedQueries     int64
	AverageQueryTime  time.Duration
	QueryDistribution map[string]int64
	PreparedStmtHits  int64
	PreparedStmtMiss  int64
}

// OptimizedQuery is one query execution request, tagged with optimization
// hints.
type OptimizedQuery struct {
	System      domain.System
	SQL         string
	Args        []interface{}
	UseCache    bool
	UsePrepared bool
	QueryType   string
}

// New constructs a QueryOptimizer from cfg, applying the teacher's defaulting
// conventions.
func New(cfg QueryOptimizerConfig) (*QueryOptimizer, error) {
	if cfg.QueryCacheTTL == 0 {
		cfg.QueryCacheTTL = 10 * time.Minute
	}
	if cfg.MaxPreparedStatements == 0 {
		cfg.MaxPreparedStatements = 100
	}
	if cfg.SlowQueryThreshold == 0 {
		cfg.SlowQueryThreshold = time.Second
	}
	if cfg.BatchThreshold == 0 {
		cfg.BatchThreshold = defaultBatchThreshold
	}
	if cfg.QueryCacheSize == 0 {
		cfg.QueryCacheSize = defaultQueryCacheSize
	}

	queryCache, err := lru.New(cfg.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}

	return &QueryOptimizer{
		config:        cfg,
		queryCache:    queryCache,
		preparedStmts: make(map[string]*sql.Stmt),
		queryStats:    QueryStats{QueryDistribution: make(map[string]int64)},
	}, nil
}

// LookupByCode implements domain.QueryOptimizer.
func (qo *QueryOptimizer) LookupByCode(ctx context.Context, system domain.System, code string) (*domain.Concept, error) {
	db, err := qo.dbFor(system)
	if err != nil {
		return nil, err
	}

	results, err := qo.executeQuery(ctx, db, OptimizedQuery{
		System:      system,
		SQL:         "SELECT code, display, attributes FROM concepts WHERE code = ?",
		Args:        []interface{}{code},
		UseCache:    qo.config.EnableQueryCache,
		UsePrepared: qo.config.EnablePreparedStatements,
		QueryType:   "lookup_by_code",
	})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return conceptFromResult(system, results[0]), nil
}

// LookupNormalized implements domain.QueryOptimizer.
func (qo *QueryOptimizer) LookupNormalized(ctx context.Context, system domain.System, normalized string) ([]*domain.Concept, error) {
	db, err := qo.dbFor(system)
	if err != nil {
		return nil, err
	}

	results, err := qo.executeQuery(ctx, db, OptimizedQuery{
		System: system,
		SQL: `SELECT c.code, c.display, c.attributes
		      FROM normalized_terms nt JOIN concepts c ON c.code = nt.code
		      WHERE nt.normalized_text = ?`,
		Args:        []interface{}{normalized},
		UseCache:    qo.config.EnableQueryCache,
		UsePrepared: qo.config.EnablePreparedStatements,
		QueryType:   "lookup_normalized",
	})
	if err != nil {
		return nil, err
	}

	concepts := make([]*domain.Concept, len(results))
	for i, r := range results {
		concepts[i] = conceptFromResult(system, r)
	}
	return concepts, nil
}

// BatchLookupNormalized implements domain.QueryOptimizer: looks up every
// term in normalized in as few IN-clause round trips as possible, splitting
// into chunks of BatchThreshold terms (spec §4.7).
func (qo *QueryOptimizer) BatchLookupNormalized(ctx context.Context, system domain.System, normalized []string) (map[string][]*domain.Concept, error) {
	out := make(map[string][]*domain.Concept)
	if len(normalized) == 0 {
		return out, nil
	}

	db, err := qo.dbFor(system)
	if err != nil {
		return nil, err
	}

	for start := 0; start < len(normalized); start += qo.config.BatchThreshold {
		end := start + qo.config.BatchThreshold
		if end > len(normalized) {
			end = len(normalized)
		}
		chunk := normalized[start:end]

		placeholders := make([]string, len(chunk))
		args := make([]interface{}, len(chunk))
		for i, term := range chunk {
			placeholders[i] = "?"
			args[i] = term
		}

		query := OptimizedQuery{
			System: system,
			SQL: fmt.Sprintf(`SELECT nt.normalized_text, c.code, c.display, c.attributes
			      FROM normalized_terms nt JOIN concepts c ON c.code = nt.code
			      WHERE nt.normalized_text IN (%s)`, strings.Join(placeholders, ",")),
			Args:        args,
			UseCache:    qo.config.EnableQueryCache,
			UsePrepared: false, // dynamic IN-clause arity, not prepared-statement-cacheable
			QueryType:   "batch_lookup_normalized",
		}

		results, err := qo.executeQuery(ctx, db, query)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			term := asString(r.Data["normalized_text"])
			out[term] = append(out[term], conceptFromResult(system, r))
		}
	}

	return out, nil
}

// PrefixScan implements domain.QueryOptimizer.
func (qo *QueryOptimizer) PrefixScan(ctx context.Context, system domain.System, prefix string, limit int) ([]*domain.Concept, error) {
	db, err := qo.dbFor(system)
	if err != nil {
		return nil, err
	}

	results, err := qo.executeQuery(ctx, db, OptimizedQuery{
		System:      system,
		SQL:         "SELECT code, display, attributes FROM concepts WHERE display LIKE ? ORDER BY display LIMIT ?",
		Args:        []interface{}{prefix + "%", limit},
		UseCache:    qo.config.EnableQueryCache,
		UsePrepared: qo.config.EnablePreparedStatements,
		QueryType:   "prefix_scan",
	})
	if err != nil {
		return nil, err
	}

	concepts := make([]*domain.Concept, len(results))
	for i, r := range results {
		concepts[i] = conceptFromResult(system, r)
	}
	return concepts, nil
}

// IsHealthy implements domain.QueryOptimizer: every configured system's
// database must respond to a ping.
func (qo *QueryOptimizer) IsHealthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, db := range qo.config.DBs {
		if err := db.PingContext(ctx); err != nil {
			return false
		}
	}
	return true
}

// GetQueryStats returns query performance statistics.
func (qo *QueryOptimizer) GetQueryStats() QueryStats {
	qo.queryStatsMutex.RLock()
	defer qo.queryStatsMutex.RUnlock()
	return qo.queryStats
}

// ClearQueryCache clears all cached queries.
func (qo *QueryOptimizer) ClearQueryCache() {
	qo.queryCache.Purge()
}

// ClearPreparedStatements closes and clears all prepared statements.
func (qo *QueryOptimizer) ClearPreparedStatements() error {
	qo.preparedStmtsMutex.Lock()
	defer qo.preparedStmtsMutex.Unlock()

	var errs []string
	for _, stmt := range qo.preparedStmts {
		if err := stmt.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	qo.preparedStmts = make(map[string]*sql.Stmt)

	if len(errs) > 0 {
		return fmt.Errorf("errors closing prepared statements: %v", strings.Join(errs, "; "))
	}
	return nil
}

func (qo *QueryOptimizer) dbFor(system domain.System) (*sql.DB, error) {
	db, ok := qo.config.DBs[system]
	if !ok {
		return nil, domain.NewUnknownSystemError(string(system))
	}
	return db, nil
}

func (qo *QueryOptimizer) executeQuery(ctx context.Context, db *sql.DB, query OptimizedQuery) ([]QueryResult, error) {
	startTime := time.Now()
	queryKey := qo.generateQueryKey(query.System, query.SQL, query.Args)

	if query.UseCache {
		if cached := qo.getCachedQuery(queryKey); cached != nil {
			qo.updateQueryStats(query.QueryType, time.Since(startTime), true, false)
			cached.HitCount++
			return cached.Result, nil
		}
	}

	var rows *sql.Rows
	var err error

	if query.UsePrepared {
		stmt, stmtErr := qo.getPreparedStatement(db, query.SQL)
		if stmtErr == nil {
			rows, err = stmt.QueryContext(ctx, query.Args...)
		} else {
			rows, err = db.QueryContext(ctx, query.SQL, query.Args...)
		}
	} else {
		rows, err = db.QueryContext(ctx, query.SQL, query.Args...)
	}

	if err != nil {
		qo.updateQueryStats(query.QueryType, time.Since(startTime), false, true)
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	defer rows.Close()

	results, err := scanResults(rows)
	if err != nil {
		qo.updateQueryStats(query.QueryType, time.Since(startTime), false, true)
		return nil, fmt.Errorf("result scanning failed: %w", err)
	}

	duration := time.Since(startTime)

	if query.UseCache {
		qo.setCachedQuery(queryKey, &CachedQuery{
			Query:     query.SQL,
			Args:      query.Args,
			Result:    results,
			CreatedAt: time.Now(),
			ExpiresAt: time.Now().Add(qo.config.QueryCacheTTL),
			Duration:  duration,
		})
	}

	qo.updateQueryStats(query.QueryType, duration, false, false)
	return results, nil
}

func (qo *QueryOptimizer) generateQueryKey(system domain.System, sqlText string, args []interface{}) string {
	key := string(system) + "::" + sqlText
	for _, arg := range args {
		key += fmt.Sprintf("::%v", arg)
	}
	return key
}

func (qo *QueryOptimizer) getCachedQuery(key string) *CachedQuery {
	value, exists := qo.queryCache.Get(key)
	if !exists {
		return nil
	}
	cached := value.(*CachedQuery)
	if time.Now().Before(cached.ExpiresAt) {
		return cached
	}
	qo.queryCache.Remove(key)
	return nil
}

func (qo *QueryOptimizer) setCachedQuery(key string, cached *CachedQuery) {
	qo.queryCache.Add(key, cached)
}

func (qo *QueryOptimizer) getPreparedStatement(db *sql.DB, sqlText string) (*sql.Stmt, error) {
	if !qo.config.EnablePreparedStatements {
		return nil, fmt.Errorf("prepared statements disabled")
	}

	qo.preparedStmtsMutex.RLock()
	if stmt, exists := qo.preparedStmts[sqlText]; exists {
		qo.preparedStmtsMutex.RUnlock()
		qo.queryStatsMutex.Lock()
		qo.queryStats.PreparedStmtHits++
		qo.queryStatsMutex.Unlock()
		return stmt, nil
	}
	qo.preparedStmtsMutex.RUnlock()

	qo.preparedStmtsMutex.Lock()
	defer qo.preparedStmtsMutex.Unlock()

	if stmt, exists := qo.preparedStmts[sqlText]; exists {
		qo.queryStats.PreparedStmtHits++
		return stmt, nil
	}

	if len(qo.preparedStmts) >= qo.config.MaxPreparedStatements {
		for key, stmt := range qo.preparedStmts {
			stmt.Close()
			delete(qo.preparedStmts, key)
			break
		}
	}

	stmt, err := db.Prepare(sqlText)
	if err != nil {
		qo.queryStatsMutex.Lock()
		qo.queryStats.PreparedStmtMiss++
		qo.queryStatsMutex.Unlock()
		return nil, err
	}

	qo.preparedStmts[sqlText] = stmt
	qo.queryStatsMutex.Lock()
	qo.queryStats.PreparedStmtMiss++
	qo.queryStatsMutex.Unlock()

	return stmt, nil
}

func scanResults(rows *sql.Rows) ([]QueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []QueryResult
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		data := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			data[col] = values[i]
		}
		results = append(results, QueryResult{Columns: columns, Values: values, Data: data})
	}
	return results, rows.Err()
}

func (qo *QueryOptimizer) updateQueryStats(queryType string, duration time.Duration, cached, failed bool) {
	if !qo.config.EnableQueryStats {
		return
	}

	qo.queryStatsMutex.Lock()
	defer qo.queryStatsMutex.Unlock()

	qo.queryStats.TotalQueries++
	if cached {
		qo.queryStats.CachedQueries++
	}
	if failed {
		qo.queryStats.FailedQueries++
	}
	if duration > qo.config.SlowQueryThreshold {
		qo.queryStats.SlowQueries++
	}
	qo.queryStats.QueryDistribution[queryType]++

	if qo.queryStats.TotalQueries == 1 {
		qo.queryStats.AverageQueryTime = duration
	} else {
		oldAvg := qo.queryStats.AverageQueryTime
		qo.queryStats.AverageQueryTime = oldAvg + (duration-oldAvg)/time.Duration(qo.queryStats.TotalQueries)
	}
}

// conceptFromResult maps a generic QueryResult row to a domain.Concept.
func conceptFromResult(system domain.System, r QueryResult) *domain.Concept {
	attrJSON := asString(r.Data["attributes"])
	var attrs map[string]string
	if attrJSON != "" {
		_ = json.Unmarshal([]byte(attrJSON), &attrs)
	}
	return &domain.Concept{
		Code:       asString(r.Data["code"]),
		System:     system,
		Display:    asString(r.Data["display"]),
		Attributes: attrs,
	}
}

// asString normalizes a database/sql scan value (string or []byte,
// depending on driver) to a Go string.
func asString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return ""
	}
}
