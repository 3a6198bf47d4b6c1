package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
)

func testConfig(addr string) domain.CacheConfig {
	return domain.CacheConfig{
		RedisURL:    "redis://" + addr,
		HotCapacity: 16,
		TTLHot:      time.Minute,
		TTLWarm:     time.Hour,
		MaxRetries:  1,
		PoolSize:    4,
		PoolTimeout: 2 * time.Second,
	}
}

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	c, err := New(testConfig(mr.Addr()), log)
	require.NoError(t, err)
	return c, mr
}

func sampleKey() domain.CacheKey {
	return domain.CacheKey{
		NormalizedTerm:     "hypertension",
		Systems:            []domain.System{domain.SystemSNOMED, domain.SystemLOINC},
		Threshold:          0.8,
		Algorithms:         []domain.FuzzyAlgorithm{domain.AlgoLevenshtein, domain.AlgoJaroWinkler},
		ContextFingerprint: "fp-1",
		RulesVersion:       3,
	}
}

func sampleResult() *domain.MappingResult {
	return &domain.MappingResult{
		Term: "hypertension",
		PerSystem: map[domain.System][]domain.MappingCandidate{
			domain.SystemSNOMED: {
				{Code: "38341003", System: domain.SystemSNOMED, Display: "Hypertensive disorder", Confidence: 1.0},
			},
		},
		TotalMatches: 1,
	}
}

func TestCache_SetGet_HotTierHit(t *testing.T) {
	c, mr := newTestCache(t)
	defer mr.Close()

	key := sampleKey()
	result := sampleResult()

	require.NoError(t, c.Set(context.Background(), key, result))

	got, ok, err := c.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, result.PerSystem[domain.SystemSNOMED][0].Code, got.PerSystem[domain.SystemSNOMED][0].Code)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.HotHits)
}

func TestCache_Get_WarmTierHitAfterHotEviction(t *testing.T) {
	c, mr := newTestCache(t)
	defer mr.Close()

	key := sampleKey()
	result := sampleResult()
	require.NoError(t, c.Set(context.Background(), key, result))

	// Simulate hot-tier eviction by purging only the hot tier directly.
	c.hot.Purge()

	got, ok, err := c.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, result.PerSystem[domain.SystemSNOMED][0].Code, got.PerSystem[domain.SystemSNOMED][0].Code)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.WarmHits)
	// The warm hit should have repopulated the hot tier.
	assert.Equal(t, 1, c.hot.Len())
}

func TestCache_Get_Miss(t *testing.T) {
	c, mr := newTestCache(t)
	defer mr.Close()

	got, ok, err := c.Get(context.Background(), sampleKey())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
}

func TestCache_InvalidateAll_PurgesBothTiers(t *testing.T) {
	c, mr := newTestCache(t)
	defer mr.Close()

	key := sampleKey()
	require.NoError(t, c.Set(context.Background(), key, sampleResult()))
	require.NoError(t, c.InvalidateAll(context.Background()))

	assert.Equal(t, 0, c.hot.Len())

	_, ok, err := c.Get(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashKey_OrderInsensitiveToSystemsAndAlgorithms(t *testing.T) {
	a := domain.CacheKey{
		NormalizedTerm: "asthma",
		Systems:        []domain.System{domain.SystemSNOMED, domain.SystemRxNorm},
		Threshold:      0.8,
		Algorithms:     []domain.FuzzyAlgorithm{domain.AlgoLevenshtein, domain.AlgoJaroWinkler},
		RulesVersion:   1,
	}
	b := domain.CacheKey{
		NormalizedTerm: "asthma",
		Systems:        []domain.System{domain.SystemRxNorm, domain.SystemSNOMED},
		Threshold:      0.8,
		Algorithms:     []domain.FuzzyAlgorithm{domain.AlgoJaroWinkler, domain.AlgoLevenshtein},
		RulesVersion:   1,
	}

	assert.Equal(t, HashKey(a), HashKey(b))
}

func TestHashKey_DiffersOnRulesVersion(t *testing.T) {
	a := sampleKey()
	b := sampleKey()
	b.RulesVersion = a.RulesVersion + 1

	assert.NotEqual(t, HashKey(a), HashKey(b))
}
