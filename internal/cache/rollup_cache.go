// Package cache implements the read-through accelerator in front of the
// daily rollup query (SPEC_FULL.md §2, §3). It is never the system of
// record: a cache miss, a decode error, or a Redis outage all fall
// straight through to Postgres.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xtrace/xtrace/internal/domain"
	"github.com/xtrace/xtrace/internal/pkg/logger"
)

// defaultTTL matches the 30s window named in SPEC_FULL.md §2 — short
// enough that a stale rollup is never visible for more than one
// dashboard refresh cycle.
const defaultTTL = 30 * time.Second

// RollupCache wraps a Redis client. A nil client makes every method a
// no-op miss, so callers can construct one unconditionally and let
// RedisConfig.Enabled() decide whether to pass a real client.
type RollupCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRollupCache builds a RollupCache. Pass nil to disable caching.
func NewRollupCache(client *redis.Client) *RollupCache {
	return &RollupCache{client: client, ttl: defaultTTL}
}

type rollupCacheEntry struct {
	Data  []domain.DailyMetrics `json:"data"`
	Total int                   `json:"total"`
}

// Key derives a deterministic cache key from the query shape: project,
// filter, and page/limit. Two requests with the same effective filter
// hit the same entry regardless of query-string key ordering.
func Key(projectID string, filter domain.TraceFilter, page, limit int) string {
	payload := struct {
		ProjectID string
		Filter    domain.TraceFilter
		Page      int
		Limit     int
	}{projectID, filter, page, limit}

	b, err := json.Marshal(payload)
	if err != nil {
		// Unmarshalable filter degrades to a cache-always-miss key
		// rather than an error the read path would have to handle.
		return "rollup:unkeyable"
	}
	sum := sha256.Sum256(b)
	return "rollup:" + hex.EncodeToString(sum[:])
}

// Get returns the cached page, or ok=false on miss, decode failure, or
// Redis unavailability.
func (c *RollupCache) Get(ctx context.Context, key string) (data []domain.DailyMetrics, total int, ok bool) {
	if c.client == nil {
		return nil, 0, false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("rollup cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, 0, false
	}
	var entry rollupCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		logger.Warn("rollup cache decode failed", zap.String("key", key), zap.Error(err))
		return nil, 0, false
	}
	return entry.Data, entry.Total, true
}

// Set populates the cache; failures are logged, never returned, since
// the cache is purely an accelerator.
func (c *RollupCache) Set(ctx context.Context, key string, data []domain.DailyMetrics, total int) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(rollupCacheEntry{Data: data, Total: total})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		logger.Warn("rollup cache set failed", zap.String("key", key), zap.Error(err))
	}
}
