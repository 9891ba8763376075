package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheTTL(t *testing.T) {
	c := NewMemoryCache(10, 0)
	defer c.Close()
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), time.Minute)
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	now = now.Add(time.Minute)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok, "entry expires at its ttl")

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats["hits"])
	assert.Equal(t, int64(1), stats["misses"])
	assert.Equal(t, int64(1), stats["evictions"])
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemoryCache(2, 0)
	defer c.Close()
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), time.Hour)
	now = now.Add(time.Second)
	c.Set(ctx, "b", []byte("2"), time.Hour)
	now = now.Add(time.Second)
	_, _ = c.Get(ctx, "a")
	now = now.Add(time.Second)
	c.Set(ctx, "c", []byte("3"), time.Hour)

	_, okA := c.Get(ctx, "a")
	_, okB := c.Get(ctx, "b")
	_, okC := c.Get(ctx, "c")
	assert.True(t, okA)
	assert.False(t, okB)
	assert.True(t, okC)
}

func TestMemoryCacheDelete(t *testing.T) {
	c := NewMemoryCache(0, time.Hour)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), time.Minute)
	c.Delete(ctx, "k")
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	c.Set(ctx, "zero", []byte("v"), 0)
	_, ok = c.Get(ctx, "zero")
	assert.False(t, ok, "non-positive ttl is not stored")
}
