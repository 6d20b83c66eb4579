package interfaces

import (
	"context"
	"time"
)

// Cache is a TTL key/value store for read-side results. Values are
// JSON-encoded, so dest must be a pointer.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context, prefix string) error
}
