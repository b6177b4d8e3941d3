package store

import (
	"context"
	"fmt"
	"time"
)

// Cache is an optional read-through record cache consulted by Get.
// Implementations are advisory: cache failures are logged and the
// backend remains authoritative.
type Cache interface {
	// Get returns the cached fields for key, or (nil, nil) on a miss.
	Get(ctx context.Context, key string) (map[string]any, error)

	// Set stores fields under key for at most ttl.
	Set(ctx context.Context, key string, fields map[string]any, ttl time.Duration) error

	// Delete drops key.
	Delete(ctx context.Context, key string) error
}

// cacheKey builds the cache key for a record identity.
func cacheKey(source string, id any) string {
	return fmt.Sprintf("arbor:%s:%v", source, id)
}
