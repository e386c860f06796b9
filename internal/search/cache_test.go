package search

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKey(t *testing.T) {
	assert.Equal(t, CacheKey("Weather Paris"), CacheKey("  weather paris "))
	assert.NotEqual(t, CacheKey("weather paris"), CacheKey("weather london"))
	assert.Len(t, CacheKey("x"), 32)
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(2, time.Minute)
	c.now = func() time.Time { return now }

	d := &Digest{Query: "a", Sources: []Source{{Title: "one"}}}
	require.NoError(t, c.Set(ctx, "a", d))

	got, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, d, got)

	got.Sources[0].Title = "mutated"
	again, _, _ := c.Get(ctx, "a")
	assert.Equal(t, "one", again.Sources[0].Title)

	now = now.Add(time.Second)
	require.NoError(t, c.Set(ctx, "b", &Digest{Query: "b"}))
	now = now.Add(time.Second)
	require.NoError(t, c.Set(ctx, "c", &Digest{Query: "c"}))
	assert.Equal(t, 2, c.Len())
	_, ok, _ = c.Get(ctx, "a")
	assert.False(t, ok, "oldest entry is evicted at capacity")

	now = now.Add(2 * time.Minute)
	_, ok, _ = c.Get(ctx, "c")
	assert.False(t, ok, "expired")
}

func TestMemoryCache_ZeroTTLDisables(t *testing.T) {
	c := NewMemoryCache(10, 0)
	require.NoError(t, c.Set(context.Background(), "a", &Digest{}))
	assert.Equal(t, 0, c.Len())
}

func TestRedisCache_Unreachable(t *testing.T) {
	ctx := context.Background()

	_, err := NewRedisCache(ctx, RedisConfig{Addr: "127.0.0.1:1", TTL: time.Minute})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	c := newRedisCache(rdb, time.Minute)
	defer c.Close()

	_, ok, err := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Error(t, err)
	assert.Error(t, c.Set(ctx, "k", &Digest{Query: "q"}))
}
