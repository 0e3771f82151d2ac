package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a Cache backed by Redis, used for the hot-document cache
// when the updater is shared across multiple processes on one host (a
// single-file MVCC database still has exactly one writer, but readers may
// be out-of-process and want to share a warm cache rather than each
// maintaining their own MemoryCache).
type RedisCache[T any] struct {
	client *redis.Client
	prefix string
}

// NewRedisCache wraps an existing redis client. Keys are namespaced under
// prefix so multiple databases can share one Redis instance.
func NewRedisCache[T any](client *redis.Client, prefix string) *RedisCache[T] {
	return &RedisCache[T]{client: client, prefix: prefix}
}

func (c *RedisCache[T]) key(key string) string { return c.prefix + ":" + key }

func (c *RedisCache[T]) Get(ctx context.Context, key string) (T, error) {
	var zero T
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return zero, ErrCacheMiss
	}
	if err != nil {
		return zero, err
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return zero, err
	}
	return value, nil
}

func (c *RedisCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key), raw, ttl).Err()
}

func (c *RedisCache[T]) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

// Clear removes every key under this cache's prefix. Intended for test
// teardown and administrative resets, not the hot path.
func (c *RedisCache[T]) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+":*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *RedisCache[T]) Close() error { return c.client.Close() }
