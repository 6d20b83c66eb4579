package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	redis "github.com/redis/go-redis/v9"

	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/tracing"
)

const (
	redisKeyPrefix = "mailpulse:"
	redisScanCount = 500
)

type redisCache struct {
	client *redis.Client
}

// NewRedisCache connects to the given redis URL, e.g. redis://:pass@host:6379/0.
func NewRedisCache(ctx context.Context, url string) (interfaces.Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis cache: %w", err)
	}
	return &redisCache{client: client}, nil
}

func (c *redisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "redisCache.Get")
	defer span.Finish()
	tracing.TagComponentCache(span)

	data, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return false, fmt.Errorf("redis get: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		tracing.TraceErr(span, err)
		return false, err
	}
	span.SetTag("hit", true)
	return true, nil
}

func (c *redisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "redisCache.Set")
	defer span.Finish()
	tracing.TagComponentCache(span)

	data, err := json.Marshal(value)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, data, ttl).Err(); err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Invalidate deletes every key under prefix using SCAN so the server is never blocked by KEYS.
func (c *redisCache) Invalidate(ctx context.Context, prefix string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "redisCache.Invalidate")
	defer span.Finish()
	tracing.TagComponentCache(span)

	iter := c.client.Scan(ctx, 0, redisKeyPrefix+prefix+"*", redisScanCount).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= redisScanCount {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				tracing.TraceErr(span, err)
				return fmt.Errorf("redis del: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			tracing.TraceErr(span, err)
			return fmt.Errorf("redis del: %w", err)
		}
	}
	return nil
}
