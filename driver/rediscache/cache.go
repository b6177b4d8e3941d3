// Package rediscache implements the store read-through cache on
// Redis. Values are JSON encoded field maps.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jacentio/arbor/store"
)

// Cache adapts a Redis client to the store.Cache interface.
type Cache struct {
	client *redis.Client
}

var _ store.Cache = (*Cache)(nil)

// New wraps an existing Redis client.
func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return New(client), nil
}

// Get returns the cached field map, or (nil, nil) on miss.
func (c *Cache) Get(ctx context.Context, key string) (map[string]any, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		// A corrupt entry behaves like a miss so reads still succeed.
		_ = c.client.Del(ctx, key).Err()
		return nil, nil
	}
	return fields, nil
}

// Set stores the field map under key for ttl.
func (c *Cache) Set(ctx context.Context, key string, fields map[string]any, ttl time.Duration) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Delete drops a cached entry. Deleting a missing key is not an
// error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}
