// Package cache provides the read-side cache used by insight queries.
package cache

import (
	"context"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/logger"
)

// InsightsPrefix namespaces read-side query results. The pipeline invalidates it after every run.
const InsightsPrefix = "insights:"

// New returns a redis cache when a URL is configured and reachable, otherwise an in-memory one.
func New(ctx context.Context, cfg *config.CacheConfig, log logger.Logger) interfaces.Cache {
	if cfg.RedisURL != "" {
		redisCache, err := NewRedisCache(ctx, cfg.RedisURL)
		if err == nil {
			log.Info("Using redis cache")
			return redisCache
		}
		log.Warnf("Redis cache unavailable, falling back to memory: %v", err)
	}
	return NewMemoryCache(cfg.Size, cfg.TTL)
}
