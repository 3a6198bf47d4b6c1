package optimization

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

func newOptimizer(t *testing.T, db *sql.DB, cfg QueryOptimizerConfig) *QueryOptimizer {
	t.Helper()
	cfg.DBs = map[domain.System]*sql.DB{domain.SystemSNOMED: db}
	qo, err := New(cfg)
	require.NoError(t, err)
	return qo
}

func TestNew_Defaults(t *testing.T) {
	db, _ := setupTestDB(t)
	defer db.Close()

	qo := newOptimizer(t, db, QueryOptimizerConfig{})

	assert.Equal(t, 10*time.Minute, qo.config.QueryCacheTTL)
	assert.Equal(t, 100, qo.config.MaxPreparedStatements)
	assert.Equal(t, time.Second, qo.config.SlowQueryThreshold)
	assert.Equal(t, defaultBatchThreshold, qo.config.BatchThreshold)
}

func TestLookupByCode_CacheMissThenHit(t *testing.T) {
	db, mock := setupTestDB(t)
	defer db.Close()

	qo := newOptimizer(t, db, QueryOptimizerConfig{EnableQueryCache: true, EnableQueryStats: true})

	rows := sqlmock.NewRows([]string{"code", "display", "attributes"}).
		AddRow("38341003", "Hypertensive disorder", "{}")
	mock.ExpectQuery("SELECT code, display, attributes FROM concepts WHERE code = ?").
		WithArgs("38341003").
		WillReturnRows(rows)

	c, err := qo.LookupByCode(context.Background(), domain.SystemSNOMED, "38341003")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Hypertensive disorder", c.Display)

	// Second call must be served from cache, no further sqlmock expectation.
	c2, err := qo.LookupByCode(context.Background(), domain.SystemSNOMED, "38341003")
	require.NoError(t, err)
	require.NotNil(t, c2)
	assert.Equal(t, c.Code, c2.Code)

	stats := qo.GetQueryStats()
	assert.Equal(t, int64(2), stats.TotalQueries)
	assert.Equal(t, int64(1), stats.CachedQueries)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupByCode_NotFound(t *testing.T) {
	db, mock := setupTestDB(t)
	defer db.Close()

	qo := newOptimizer(t, db, QueryOptimizerConfig{})

	rows := sqlmock.NewRows([]string{"code", "display", "attributes"})
	mock.ExpectQuery("SELECT code, display, attributes FROM concepts WHERE code = ?").
		WithArgs("unknown").
		WillReturnRows(rows)

	c, err := qo.LookupByCode(context.Background(), domain.SystemSNOMED, "unknown")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestLookupByCode_UnknownSystem(t *testing.T) {
	db, _ := setupTestDB(t)
	defer db.Close()

	qo := newOptimizer(t, db, QueryOptimizerConfig{})

	_, err := qo.LookupByCode(context.Background(), domain.SystemRxNorm, "x")
	require.Error(t, err)
}

func TestLookupNormalized_PreparedStatement(t *testing.T) {
	db, mock := setupTestDB(t)
	defer db.Close()

	qo := newOptimizer(t, db, QueryOptimizerConfig{EnablePreparedStatements: true})

	sqlText := `SELECT c.code, c.display, c.attributes
		      FROM normalized_terms nt JOIN concepts c ON c.code = nt.code
		      WHERE nt.normalized_text = ?`

	mock.ExpectPrepare(sqlText)
	rows := sqlmock.NewRows([]string{"code", "display", "attributes"}).
		AddRow("22298006", "Myocardial infarction", "{}")
	mock.ExpectQuery(sqlText).WithArgs("myocardial infarction").WillReturnRows(rows)

	concepts, err := qo.LookupNormalized(context.Background(), domain.SystemSNOMED, "myocardial infarction")
	require.NoError(t, err)
	require.Len(t, concepts, 1)
	assert.Equal(t, "22298006", concepts[0].Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchLookupNormalized_ChunksAtThreshold(t *testing.T) {
	db, mock := setupTestDB(t)
	defer db.Close()

	qo := newOptimizer(t, db, QueryOptimizerConfig{BatchThreshold: 2})

	terms := []string{"asthma", "hypertension", "stroke"}

	rows1 := sqlmock.NewRows([]string{"normalized_text", "code", "display", "attributes"}).
		AddRow("asthma", "195967001", "Asthma", "{}").
		AddRow("hypertension", "38341003", "Hypertensive disorder", "{}")
	mock.ExpectQuery(`WHERE nt.normalized_text IN \(\?,\?\)`).
		WithArgs("asthma", "hypertension").
		WillReturnRows(rows1)

	rows2 := sqlmock.NewRows([]string{"normalized_text", "code", "display", "attributes"}).
		AddRow("stroke", "230690007", "Stroke", "{}")
	mock.ExpectQuery(`WHERE nt.normalized_text IN \(\?\)`).
		WithArgs("stroke").
		WillReturnRows(rows2)

	result, err := qo.BatchLookupNormalized(context.Background(), domain.SystemSNOMED, terms)
	require.NoError(t, err)
	require.Len(t, result, 3)
	assert.Equal(t, "195967001", result["asthma"][0].Code)
	assert.Equal(t, "230690007", result["stroke"][0].Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchLookupNormalized_Empty(t *testing.T) {
	db, _ := setupTestDB(t)
	defer db.Close()

	qo := newOptimizer(t, db, QueryOptimizerConfig{})

	result, err := qo.BatchLookupNormalized(context.Background(), domain.SystemSNOMED, nil)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestPrefixScan(t *testing.T) {
	db, mock := setupTestDB(t)
	defer db.Close()

	qo := newOptimizer(t, db, QueryOptimizerConfig{})

	rows := sqlmock.NewRows([]string{"code", "display", "attributes"}).
		AddRow("38341003", "Hypertensive disorder", "{}")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT code, display, attributes FROM concepts WHERE display LIKE ? ORDER BY display LIMIT ?")).
		WithArgs("Hyper%", 10).
		WillReturnRows(rows)

	concepts, err := qo.PrefixScan(context.Background(), domain.SystemSNOMED, "Hyper", 10)
	require.NoError(t, err)
	require.Len(t, concepts, 1)
	assert.Equal(t, "Hypertensive disorder", concepts[0].Display)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsHealthy(t *testing.T) {
	db, mock := setupTestDB(t)
	defer db.Close()

	qo := newOptimizer(t, db, QueryOptimizerConfig{})

	mock.ExpectPing()
	assert.True(t, qo.IsHealthy())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreparedStatementEviction(t *testing.T) {
	db, mock := setupTestDB(t)
	defer db.Close()

	qo := newOptimizer(t, db, QueryOptimizerConfig{EnablePreparedStatements: true, MaxPreparedStatements: 2})

	sql1 := "SELECT * FROM table1 WHERE id = ?"
	sql2 := "SELECT * FROM table2 WHERE id = ?"
	sql3 := "SELECT * FROM table3 WHERE id = ?"

	mock.ExpectPrepare(regexp.QuoteMeta(sql1))
	mock.ExpectPrepare(regexp.QuoteMeta(sql2))
	mock.ExpectPrepare(regexp.QuoteMeta(sql3)).WillReturnCloseError(nil)

	_, err1 := qo.getPreparedStatement(db, sql1)
	require.NoError(t, err1)
	_, err2 := qo.getPreparedStatement(db, sql2)
	require.NoError(t, err2)
	_, err3 := qo.getPreparedStatement(db, sql3)
	require.NoError(t, err3)

	qo.preparedStmtsMutex.RLock()
	assert.Len(t, qo.preparedStmts, 2)
	qo.preparedStmtsMutex.RUnlock()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearQueryCache(t *testing.T) {
	db, _ := setupTestDB(t)
	defer db.Close()

	qo := newOptimizer(t, db, QueryOptimizerConfig{EnableQueryCache: true})

	qo.setCachedQuery("k", &CachedQuery{Result: []QueryResult{}, ExpiresAt: time.Now().Add(time.Hour)})
	assert.NotNil(t, qo.getCachedQuery("k"))

	qo.ClearQueryCache()
	assert.Nil(t, qo.getCachedQuery("k"))
}
