package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetGet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, 0)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "a", 1, 60))
	v, ok := c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get(ctx, "missing")
	assert.False(t, ok)

	require.NoError(t, c.Delete(ctx, "a"))
	_, ok = c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, 0)
	defer c.Close()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "short", "x", 1))
	require.NoError(t, c.Set(ctx, "long", "y", 60))

	now = now.Add(2 * time.Second)
	_, ok := c.Get(ctx, "short")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "long")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	c.removeExpired()
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_EvictsOldestWhenFull(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(2, 0)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "a", 1, 60))
	require.NoError(t, c.Set(ctx, "b", 2, 60))
	require.NoError(t, c.Set(ctx, "a", 3, 60)) // a is now newest
	require.NoError(t, c.Set(ctx, "c", 4, 60))

	_, ok := c.Get(ctx, "b")
	assert.False(t, ok)
	v, ok := c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
	assert.Equal(t, 2, c.Len())

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Len())
}
