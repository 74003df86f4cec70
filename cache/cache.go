package cache

import (
	"context"
	"time"
)

// Cache defines the interface for all cache implementations
type Cache interface {
	// Get retrieves a value from cache
	Get(ctx context.Context, key string) (interface{}, error)

	// Set stores a value in cache with TTL
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a value from cache
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists
	Exists(ctx context.Context, key string) (bool, error)

	// Clear removes all entries
	Clear(ctx context.Context) error

	// GetMulti retrieves multiple values at once
	GetMulti(ctx context.Context, keys []string) (map[string]interface{}, error)

	// SetMulti stores multiple values at once
	SetMulti(ctx context.Context, items map[string]interface{}, ttl time.Duration) error

	// Stats returns cache statistics
	Stats() CacheStats
}

// CacheStats holds cache performance metrics
type CacheStats struct {
	Hits       int64
	Misses     int64
	Sets       int64
	Deletes    int64
	Evictions  int64
	Size       int64
	HitRate    float64
	AvgGetTime time.Duration
	AvgSetTime time.Duration
}

// CacheKey generates a cache key with namespace
func CacheKey(namespace, key string) string {
	if namespace == "" {
		return key
	}
	return namespace + ":" + key
}

// CacheTTL constants for different data types
const (
	// Latest tick price, one per code - refreshed on every ingest tick
	TTL_Latest_Price = 1 * time.Second

	// Leaderboard snapshot - rebuilt periodically, served stale in between
	TTL_Leaderboard = 10 * time.Second

	// Candle/OHLC rollups
	TTL_Candle = 5 * time.Second

	// Idempotency and duplicate-suppression keys on order submission
	TTL_Idempotency_Key = 5 * time.Second
	TTL_Content_Hash     = 2 * time.Second

	// Per-participant order mutex lease
	TTL_Order_Mutex = 10 * time.Second

	// No expiration
	TTL_Permanent = 0
)

// Cache namespaces
const (
	NS_Ticker      = "ticker"
	NS_Leaderboard = "leaderboard"
	NS_Candle      = "candle"
	NS_Idempotency = "idempotency"
	NS_OrderLock   = "order_lock"
)
