package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores digests by normalized query.
type Cache interface {
	Get(ctx context.Context, key string) (*Digest, bool, error)
	Set(ctx context.Context, key string, d *Digest) error
}

// CacheKey returns the cache key for a query: a hash of the lowercased,
// trimmed text.
func CacheKey(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:16])
}

// ===========================================================================
// IN-MEMORY CACHE
// ===========================================================================

// MemoryCache is a bounded TTL cache local to the process.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	digest    *Digest
	expiresAt time.Time
}

// NewMemoryCache creates a cache holding at most maxSize digests for ttl.
func NewMemoryCache(maxSize int, ttl time.Duration) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &MemoryCache{
		entries: make(map[string]*cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) (*Digest, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false, nil
	}
	return cloneDigest(entry.digest), true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, d *Digest) error {
	if c.ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[key] = &cacheEntry{
		digest:    cloneDigest(d),
		expiresAt: c.now().Add(c.ttl),
	}
	return nil
}

// Len returns the number of entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.expiresAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func cloneDigest(d *Digest) *Digest {
	if d == nil {
		return nil
	}
	out := *d
	out.Sources = append([]Source(nil), d.Sources...)
	return &out
}

// ===========================================================================
// REDIS CACHE
// ===========================================================================

// RedisKeyPrefix namespaces search digests in a shared Redis.
const RedisKeyPrefix = "rainbow:search:"

// RedisConfig holds configuration for the Redis connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisCache shares digests between processes through Redis. Values are
// JSON with a TTL.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache creates a cache. The connection is checked with a ping;
// a failed ping is returned so callers can fall back to MemoryCache.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return newRedisCache(rdb, cfg.TTL), nil
}

func newRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) (*Digest, bool, error) {
	data, err := c.rdb.Get(ctx, RedisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var d Digest
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, false, fmt.Errorf("decode cached digest: %w", err)
	}
	return &d, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, d *Digest) error {
	if c.ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode digest: %w", err)
	}
	if err := c.rdb.Set(ctx, RedisKeyPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
