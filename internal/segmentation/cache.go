package segmentation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisCache caches evaluation results in Redis so identical rule sets
// short-circuit across processes. Failures are treated as misses; the
// evaluator just re-queries.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache creates a Redis-backed evaluation cache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "segeval:"}
}

// Get returns the cached recipient set for a tree hash, if present.
func (c *RedisCache) Get(ctx context.Context, key string) ([]uuid.UUID, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var ids []uuid.UUID
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, false
	}
	return ids, true
}

// Put stores a recipient set under the tree hash with a TTL.
func (c *RedisCache) Put(ctx context.Context, key string, ids []uuid.UUID, ttl time.Duration) {
	data, err := json.Marshal(ids)
	if err != nil {
		return
	}
	c.client.Set(ctx, c.prefix+key, data, ttl)
}

// MemoryCache is a process-local evaluation cache for tests and
// single-process deployments.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
}

type memoryCacheEntry struct {
	ids       []uuid.UUID
	expiresAt time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryCacheEntry)}
}

// Get returns the cached recipient set for a tree hash, if present and
// not expired.
func (c *MemoryCache) Get(_ context.Context, key string) ([]uuid.UUID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.ids, true
}

// Put stores a recipient set under the tree hash.
func (c *MemoryCache) Put(_ context.Context, key string, ids []uuid.UUID, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryCacheEntry{ids: ids, expiresAt: time.Now().Add(ttl)}
}
