package services

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryTreeCache_ExpiresAndInvalidates(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	c := NewMemoryTreeCache(time.Minute)
	c.now = func() time.Time { return now }

	tree := &Tree{AsOf: now}
	c.Set(ctx, "k", 0, tree)
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	require.Same(t, tree, got)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(ctx, "k")
	require.False(t, ok)

	c.Set(ctx, "k", 0, tree)
	c.Invalidate(ctx, "test")
	_, ok = c.Get(ctx, "k")
	require.False(t, ok)

	c.Set(ctx, "", 1, tree)
	c.Set(ctx, "nil", 1, nil)
	require.Empty(t, c.entries)
}

func TestRedisTreeCache_UnreachableServerMisses(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedisTreeCache(client, "", time.Minute, nil)
	ctx := context.Background()
	c.Set(ctx, "k", 0, &Tree{})
	_, ok := c.Get(ctx, "k")
	require.False(t, ok)
	c.Invalidate(ctx, "test")
	require.Equal(t, "org:tree:gen", c.generationKey())
	require.Equal(t, "org:tree:3:k", c.entryKey(3, "k"))

	_, err := c.Generation(ctx)
	require.Error(t, err)
}

func TestMemoryTreeCache_DropsTreesOfOlderGeneration(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryTreeCache(0)

	gen, err := c.Generation(ctx)
	require.NoError(t, err)

	c.Invalidate(ctx, "commit")
	c.Set(ctx, "k", gen, &Tree{})
	_, ok := c.Get(ctx, "k")
	require.False(t, ok)

	gen, err = c.Generation(ctx)
	require.NoError(t, err)
	tree := &Tree{}
	c.Set(ctx, "k", gen, tree)
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	require.Same(t, tree, got)
}
