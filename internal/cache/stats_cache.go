// Package cache wraps a Redis client for response caches whose
// staleness is tolerable, grounded on the zigbee-adapter state cache.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const statsKey = "timeline:stats"

// StatsCache caches the marshaled /stats response body for a short TTL,
// so repeated polling doesn't force a table scan per request. A nil
// *StatsCache (no Redis configured) is valid: Get always misses and Set
// is a no-op, so callers never need a presence check.
type StatsCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStatsCache(rdb *redis.Client, ttl time.Duration) *StatsCache {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &StatsCache{rdb: rdb, ttl: ttl}
}

func (c *StatsCache) Get(ctx context.Context) ([]byte, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	b, err := c.rdb.Get(ctx, statsKey).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

func (c *StatsCache) Set(ctx context.Context, body []byte) {
	if c == nil || c.rdb == nil {
		return
	}
	_ = c.rdb.Set(ctx, statsKey, body, c.ttl).Err()
}
