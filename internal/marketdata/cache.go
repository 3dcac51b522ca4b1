package marketdata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/btcintel/internal/metrics"
	"github.com/ajitpratap0/btcintel/internal/models"
)

const snapshotKey = "btcintel:market_snapshot"

// SnapshotCache caches the latest market snapshot in Redis so repeated
// price reads inside one interval skip the provider. Nil-safe: a nil
// cache is a no-op.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotCache wraps a Redis client. Returns nil when client is nil.
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	if client == nil {
		return nil
	}
	if ttl == 0 {
		ttl = 60 * time.Second
	}
	return &SnapshotCache{client: client, ttl: ttl}
}

// Get returns the cached snapshot if present and fresh.
func (c *SnapshotCache) Get(ctx context.Context) (models.MarketSnapshot, bool) {
	if c == nil || c.client == nil {
		return models.MarketSnapshot{}, false
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, snapshotKey).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Msg("Redis get error - treating as cache miss")
		}
		metrics.CacheHits.WithLabelValues("miss").Inc()
		return models.MarketSnapshot{}, false
	}

	var s models.MarketSnapshot
	if err := json.Unmarshal([]byte(cached), &s); err != nil {
		log.Warn().Err(err).Msg("Failed to unmarshal cached snapshot")
		metrics.CacheHits.WithLabelValues("miss").Inc()
		return models.MarketSnapshot{}, false
	}

	metrics.CacheHits.WithLabelValues("hit").Inc()
	return s, true
}

// Set stores a snapshot with the configured TTL. Failures are logged,
// never propagated.
func (c *SnapshotCache) Set(ctx context.Context, s models.MarketSnapshot) {
	if c == nil || c.client == nil {
		return
	}

	data, err := json.Marshal(s)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to marshal snapshot for cache")
		return
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	if err := c.client.Set(cacheCtx, snapshotKey, data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("Failed to cache snapshot")
	}
}
