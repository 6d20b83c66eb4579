package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/tracing"
	"github.com/customeros/mailpulse/internal/utils"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// memoryCache is a bounded in-process cache. The LRU evicts by size and by
// maxTTL; shorter per-entry TTLs are checked on read.
type memoryCache struct {
	lru *expirable.LRU[string, memoryEntry]
	now func() time.Time
}

func NewMemoryCache(size int, maxTTL time.Duration) interfaces.Cache {
	return &memoryCache{
		lru: expirable.NewLRU[string, memoryEntry](size, nil, maxTTL),
		now: utils.Now,
	}
}

func (c *memoryCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "memoryCache.Get")
	defer span.Finish()
	tracing.TagComponentCache(span)

	entry, ok := c.lru.Get(key)
	if !ok {
		return false, nil
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		c.lru.Remove(key)
		return false, nil
	}
	if err := json.Unmarshal(entry.data, dest); err != nil {
		tracing.TraceErr(span, err)
		return false, err
	}
	span.SetTag("hit", true)
	return true, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "memoryCache.Set")
	defer span.Finish()
	tracing.TagComponentCache(span)

	data, err := json.Marshal(value)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	entry := memoryEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.lru.Add(key, entry)
	return nil
}

func (c *memoryCache) Invalidate(ctx context.Context, prefix string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "memoryCache.Invalidate")
	defer span.Finish()
	tracing.TagComponentCache(span)

	removed := 0
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
			removed++
		}
	}
	span.SetTag("removed", removed)
	return nil
}
