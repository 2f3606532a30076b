package utils

import (
	"context"
	"sync"
	"time"
)

// PageCache stores fully rendered response bodies keyed by page identity.
// Handlers receive it as an explicit capability rather than touching a
// global cache, so tests can swap in the in-memory implementation.
type PageCache interface {
	GetBytes(key string) ([]byte, bool)
	SetBytes(key string, b []byte, ttl time.Duration)
	Delete(key string)
}

// RedisPageCache is the production PageCache backed by Redis.
type RedisPageCache struct{}

// NewRedisPageCache returns a PageCache backed by the shared Redis client.
func NewRedisPageCache() *RedisPageCache {
	return &RedisPageCache{}
}

// GetBytes returns cached bytes for a key from Redis.
func (c *RedisPageCache) GetBytes(key string) ([]byte, bool) {
	rc := GetRedis()
	if rc == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := rc.Get(ctx, key).Bytes()
	if err != nil {
		if Sugar != nil {
			Sugar.Debugf("page cache miss key=%s err=%v", key, err)
		}
		return nil, false
	}
	return b, true
}

// SetBytes stores the rendered body with the given TTL.
func (c *RedisPageCache) SetBytes(key string, b []byte, ttl time.Duration) {
	rc := GetRedis()
	if rc == nil || ttl <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rc.Set(ctx, key, b, ttl).Err(); err != nil {
		if Sugar != nil {
			Sugar.Warnf("page cache set failed key=%s err=%v", key, err)
		}
	}
}

// Delete removes a cached page, making fresh content visible immediately.
func (c *RedisPageCache) Delete(key string) {
	rc := GetRedis()
	if rc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = rc.Del(ctx, key).Err()
}

type memoryEntry struct {
	body      []byte
	expiresAt time.Time
}

// MemoryPageCache is a process-local PageCache used when Redis is not
// configured, and by the test suite.
type MemoryPageCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryPageCache returns an empty in-memory PageCache.
func NewMemoryPageCache() *MemoryPageCache {
	return &MemoryPageCache{entries: map[string]memoryEntry{}}
}

// GetBytes returns the cached body if present and not expired.
func (c *MemoryPageCache) GetBytes(key string) ([]byte, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.body, true
}

// SetBytes stores the body until the TTL elapses.
func (c *MemoryPageCache) SetBytes(key string, b []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = memoryEntry{body: b, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// Delete removes a cached page.
func (c *MemoryPageCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
