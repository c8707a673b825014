package services

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// TreeCache stores composed trees. Invalidate drops every entry and moves
// the generation on. Callers read Generation before reading the data a tree
// is built from and hand it to Set, which drops trees of an older generation.
type TreeCache interface {
	Get(ctx context.Context, key string) (*Tree, bool)
	Generation(ctx context.Context) (int64, error)
	Set(ctx context.Context, key string, gen int64, tree *Tree)
	Invalidate(ctx context.Context, reason string)
}

func (s *OrgService) invalidateTreeCache(ctx context.Context, reason string) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(ctx, reason)
}

// InvalidateTreeCache drops cached trees, e.g. after a bulk load that ran
// with WithSkipCacheInvalidation.
func (s *OrgService) InvalidateTreeCache(ctx context.Context) {
	s.invalidateTreeCache(ctx, "manual")
}

type memoryEntry struct {
	tree      *Tree
	expiresAt time.Time
}

type MemoryTreeCache struct {
	mu      sync.RWMutex
	gen     int64
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

// NewMemoryTreeCache returns a process-local cache. A zero ttl never expires.
func NewMemoryTreeCache(ttl time.Duration) *MemoryTreeCache {
	return &MemoryTreeCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (c *MemoryTreeCache) Get(_ context.Context, key string) (*Tree, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		ok = false
	}
	recordCacheRequest("memory", ok)
	if !ok {
		return nil, false
	}
	return e.tree, true
}

func (c *MemoryTreeCache) Generation(context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen, nil
}

func (c *MemoryTreeCache) Set(_ context.Context, key string, gen int64, tree *Tree) {
	if key == "" || tree == nil {
		return
	}
	e := memoryEntry{tree: tree}
	if c.ttl > 0 {
		e.expiresAt = c.now().Add(c.ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.entries[key] = e
}

func (c *MemoryTreeCache) Invalidate(_ context.Context, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.entries = make(map[string]memoryEntry)
	recordCacheInvalidate(reason)
}

// redisStaleTTL bounds entries when no TTL is configured, since entries of
// old generations are never deleted explicitly.
const redisStaleTTL = 24 * time.Hour

// RedisTreeCache shares trees between processes. Keys embed a generation
// counter; invalidation bumps the counter so stale entries are never read
// again and expire through their TTL.
type RedisTreeCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *logrus.Logger
}

func NewRedisTreeCache(client *redis.Client, prefix string, ttl time.Duration, log *logrus.Logger) *RedisTreeCache {
	if prefix == "" {
		prefix = "org:tree"
	}
	return &RedisTreeCache{client: client, prefix: prefix, ttl: ttl, log: log}
}

func (c *RedisTreeCache) generationKey() string {
	return c.prefix + ":gen"
}

func (c *RedisTreeCache) entryKey(gen int64, key string) string {
	return c.prefix + ":" + strconv.FormatInt(gen, 10) + ":" + key
}

func (c *RedisTreeCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	return gen, nil
}

func (c *RedisTreeCache) Get(ctx context.Context, key string) (*Tree, bool) {
	gen, err := c.Generation(ctx)
	if err != nil {
		c.warn(err, "org tree cache: generation lookup failed")
		recordCacheRequest("redis", false)
		return nil, false
	}
	raw, err := c.client.Get(ctx, c.entryKey(gen, key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.warn(err, "org tree cache: get failed")
		}
		recordCacheRequest("redis", false)
		return nil, false
	}
	var tree Tree
	if err := json.Unmarshal(raw, &tree); err != nil {
		c.warn(err, "org tree cache: corrupt entry")
		recordCacheRequest("redis", false)
		return nil, false
	}
	recordCacheRequest("redis", true)
	return &tree, true
}

// Set stores tree under gen. A tree of an older generation lands under a key
// Get no longer reads and expires through the TTL.
func (c *RedisTreeCache) Set(ctx context.Context, key string, gen int64, tree *Tree) {
	if key == "" || tree == nil {
		return
	}
	raw, err := json.Marshal(tree)
	if err != nil {
		c.warn(err, "org tree cache: encode failed")
		return
	}
	ttl := c.ttl
	if ttl <= 0 {
		ttl = redisStaleTTL
	}
	if err := c.client.Set(ctx, c.entryKey(gen, key), raw, ttl).Err(); err != nil {
		c.warn(err, "org tree cache: set failed")
	}
}

func (c *RedisTreeCache) Invalidate(ctx context.Context, reason string) {
	if err := c.client.Incr(ctx, c.generationKey()).Err(); err != nil {
		c.warn(err, "org tree cache: invalidate failed")
		return
	}
	recordCacheInvalidate(reason)
}

func (c *RedisTreeCache) warn(err error, msg string) {
	if c.log == nil {
		return
	}
	c.log.WithError(err).Warn(msg)
}
