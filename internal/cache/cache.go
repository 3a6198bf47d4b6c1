// Package cache implements the Cache Layer (spec §4.6): a two-tier mapping
// result cache with an in-process hot LRU and a Redis-backed warm tier,
// probed hot -> warm -> miss, with rules-version-aware invalidation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
)

// hotEntry pairs a cached result with its hot-tier expiry.
type hotEntry struct {
	result    *domain.MappingResult
	expiresAt time.Time
}

// warmEnvelope is the JSON shape persisted in the warm tier, mirroring the
// cached-at/expires-at envelope of the teacher's Redis cache client.
type warmEnvelope struct {
	Result    *domain.MappingResult `json:"result"`
	CachedAt  time.Time             `json:"cached_at"`
	ExpiresAt time.Time             `json:"expires_at"`
}

// Cache implements domain.CacheLayer.
type Cache struct {
	hot     *lru.Cache[string, hotEntry]
	warm    *redis.Client
	breaker *gobreaker.CircuitBreaker
	log     *logrus.Logger

	ttlHot  time.Duration
	ttlWarm time.Duration

	hotHits  int64
	warmHits int64
	misses   int64
}

// New constructs a Cache from cfg, dialing the warm-tier Redis client and
// verifying connectivity.
func New(cfg domain.CacheConfig, log *logrus.Logger) (*Cache, error) {
	hot, err := lru.New[string, hotEntry](cfg.HotCapacity)
	if err != nil {
		return nil, fmt.Errorf("create hot LRU: %w", err)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse warm tier redis url: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.PoolTimeout = cfg.PoolTimeout
	opts.MaxRetries = cfg.MaxRetries

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect warm tier redis: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cache-warm-tier",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
	})

	return &Cache{
		hot: hot, warm: client, breaker: breaker, log: log,
		ttlHot: cfg.TTLHot, ttlWarm: cfg.TTLWarm,
	}, nil
}

// Get implements domain.CacheLayer: probe hot, then warm, else miss.
func (c *Cache) Get(ctx context.Context, key domain.CacheKey) (*domain.MappingResult, bool, error) {
	hashKey := HashKey(key)

	if entry, ok := c.hot.Get(hashKey); ok {
		if time.Now().Before(entry.expiresAt) {
			atomic.AddInt64(&c.hotHits, 1)
			return entry.result, true, nil
		}
		c.hot.Remove(hashKey)
	}

	raw, err := c.breaker.Execute(func() (interface{}, error) {
		return c.warm.Get(ctx, hashKey).Result()
	})
	if err == redis.Nil {
		atomic.AddInt64(&c.misses, 1)
		return nil, false, nil
	}
	if err == gobreaker.ErrOpenState {
		c.log.WithField("cache_key", hashKey).Warn("warm tier circuit open, degrading to miss")
		atomic.AddInt64(&c.misses, 1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, domain.NewCacheError(fmt.Errorf("warm tier get: %w", err))
	}

	var envelope warmEnvelope
	if err := json.Unmarshal([]byte(raw.(string)), &envelope); err != nil {
		c.warm.Del(ctx, hashKey)
		atomic.AddInt64(&c.misses, 1)
		return nil, false, nil
	}
	if time.Now().After(envelope.ExpiresAt) {
		c.warm.Del(ctx, hashKey)
		atomic.AddInt64(&c.misses, 1)
		return nil, false, nil
	}

	c.hot.Add(hashKey, hotEntry{result: envelope.Result, expiresAt: time.Now().Add(c.ttlHot)})
	atomic.AddInt64(&c.warmHits, 1)
	return envelope.Result, true, nil
}

// Set implements domain.CacheLayer: writes populate both tiers.
func (c *Cache) Set(ctx context.Context, key domain.CacheKey, result *domain.MappingResult) error {
	hashKey := HashKey(key)
	now := time.Now()

	c.hot.Add(hashKey, hotEntry{result: result, expiresAt: now.Add(c.ttlHot)})

	envelope := warmEnvelope{Result: result, CachedAt: now, ExpiresAt: now.Add(c.ttlWarm)}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal warm tier envelope: %w", err)
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.warm.Set(ctx, hashKey, data, c.ttlWarm).Err()
	})
	if err == gobreaker.ErrOpenState {
		c.log.WithField("cache_key", hashKey).Warn("warm tier circuit open, hot-only write")
		return nil
	}
	if err != nil {
		return domain.NewCacheError(fmt.Errorf("warm tier set: %w", err))
	}
	return nil
}

// InvalidateAll purges both tiers, used when the Rules Engine's version
// bump requires a full flush rather than selective eviction.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	c.hot.Purge()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.warm.FlushAll(ctx).Err()
	})
	if err == gobreaker.ErrOpenState {
		return nil
	}
	if err != nil {
		return domain.NewCacheError(fmt.Errorf("warm tier flush: %w", err))
	}
	return nil
}

// Stats implements domain.CacheLayer.
func (c *Cache) Stats() domain.CacheStats {
	return domain.CacheStats{
		HotHits:    atomic.LoadInt64(&c.hotHits),
		WarmHits:   atomic.LoadInt64(&c.warmHits),
		Misses:     atomic.LoadInt64(&c.misses),
		HotEntries: c.hot.Len(),
	}
}

// HashKey reduces a CacheKey to its SHA-256 hex digest. Systems and
// algorithms are sorted first so unordered-set differences in the request
// don't produce distinct cache entries (spec §4.6, §3 invariant 5).
func HashKey(key domain.CacheKey) string {
	systems := make([]string, len(key.Systems))
	for i, s := range key.Systems {
		systems[i] = string(s)
	}
	sort.Strings(systems)

	algorithms := make([]string, len(key.Algorithms))
	for i, a := range key.Algorithms {
		algorithms[i] = string(a)
	}
	sort.Strings(algorithms)

	composite := fmt.Sprintf("%s|%s|%.4f|%s|%s|%d",
		key.NormalizedTerm, strings.Join(systems, ","), key.Threshold,
		strings.Join(algorithms, ","), key.ContextFingerprint, key.RulesVersion)

	hash := sha256.Sum256([]byte(composite))
	return fmt.Sprintf("mapping:%x", hash)
}
