package redisx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

const (
	// Dedup marker for processed order messages: dedup:fulfillment:{dedup_key}.
	keyDedup = "dedup:fulfillment:%s"

	// Cached order status for fast status reads: order_status:{order_id}.
	keyOrderStatus = "order_status:%d"
)

var (
	ttlDedup       = 48 * time.Hour
	ttlStatusCache = 5 * time.Minute
)

// Cache is a thin Redis wrapper for the two cache concerns of the pipeline:
// a fast-path duplicate check for redeliveries and an order status cache.
// Postgres stays the source of truth for both.
type Cache struct {
	rdb *redis.Client
}

// MustNewCache creates the Redis-backed cache.
func MustNewCache() *Cache {
	addr := viper.GetString("redis.addr")
	if addr == "" {
		addr = "redis:6379"
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		panic(fmt.Sprintf("Failed to connect to Redis: %v", err))
	}

	slog.Info("Redis connected", "addr", addr)

	return &Cache{rdb: rdb}
}

// Close closes the Redis connection for graceful shutdown.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// SeenDedupKey reports whether a message with this dedup key was already
// processed. A Redis error degrades to "not seen"; the database unique index
// still guarantees idempotency.
func (c *Cache) SeenDedupKey(ctx context.Context, key string) bool {
	n, err := c.rdb.Exists(ctx, fmt.Sprintf(keyDedup, key)).Result()
	if err != nil {
		slog.Warn("Redis dedup lookup failed", "error", err)

		return false
	}

	return n > 0
}

// MarkDedupKey records a processed dedup key. Best effort.
func (c *Cache) MarkDedupKey(ctx context.Context, key string) {
	if err := c.rdb.Set(ctx, fmt.Sprintf(keyDedup, key), "1", ttlDedup).Err(); err != nil {
		slog.Warn("Redis dedup mark failed", "error", err)
	}
}

// SetOrderStatus caches the current status of an order. Best effort.
func (c *Cache) SetOrderStatus(ctx context.Context, orderID int64, status string) {
	if err := c.rdb.Set(ctx, fmt.Sprintf(keyOrderStatus, orderID), status, ttlStatusCache).Err(); err != nil {
		slog.Warn("Redis status cache write failed", "error", err)
	}
}

// GetOrderStatus returns the cached status, or "" on miss.
func (c *Cache) GetOrderStatus(ctx context.Context, orderID int64) string {
	s, err := c.rdb.Get(ctx, fmt.Sprintf(keyOrderStatus, orderID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("Redis status cache read failed", "error", err)
		}

		return ""
	}

	return s
}

// InvalidateOrderStatus drops the cached status, used when an order is removed.
func (c *Cache) InvalidateOrderStatus(ctx context.Context, orderID int64) {
	if err := c.rdb.Del(ctx, fmt.Sprintf(keyOrderStatus, orderID)).Err(); err != nil {
		slog.Warn("Redis status cache invalidation failed", "error", err)
	}
}
