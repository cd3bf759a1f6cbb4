package landing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Cache stores the resolved landing image URLs under a versioned key. Entries
// never expire; bumping the version is the only invalidation.
type Cache interface {
	Get(ctx context.Context, key string) ([]string, bool, error)
	Set(ctx context.Context, key string, urls []string) error
}

// RedisCache keeps the list as a JSON string.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps a go-redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get loads the list; a missing key is a miss, not an error.
func (c *RedisCache) Get(ctx context.Context, key string) ([]string, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var urls []string
	if err := json.Unmarshal(raw, &urls); err != nil {
		return nil, false, fmt.Errorf("decode cached urls: %w", err)
	}
	return urls, true, nil
}

// Set stores the list without expiry.
func (c *RedisCache) Set(ctx context.Context, key string, urls []string) error {
	raw, err := json.Marshal(urls)
	if err != nil {
		return fmt.Errorf("encode urls: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]string
}

// NewMemoryCache constructs an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]string)}
}

// Get returns a copy of the cached list.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	urls, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]string(nil), urls...), true, nil
}

// Set replaces the cached list.
func (c *MemoryCache) Set(ctx context.Context, key string, urls []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = append([]string(nil), urls...)
	return nil
}
