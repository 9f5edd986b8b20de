package analytics

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Cache stores serialized aggregate payloads under a key with a TTL.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
	Close()
}

// redisCache is the shared cache. Failures degrade to a miss so the
// aggregator falls through to a direct computation.
type redisCache struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisCache(client *redis.Client, logger *zap.Logger) Cache {
	return &redisCache{client: client, logger: logger}
}

func (c *redisCache) Get(ctx context.Context, key string, dest interface{}) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("analytics cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Warn("analytics cache payload corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Warn("analytics cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Close is a no-op; the redis client's lifecycle belongs to the caller.
func (c *redisCache) Close() {}

// memoryCache is the single-process fallback when no redis address is
// configured.
type memoryCache struct {
	mu        sync.RWMutex
	entries   map[string]memoryEntry
	stop      chan struct{}
	closeOnce sync.Once
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func NewMemoryCache() Cache {
	c := &memoryCache{
		entries: make(map[string]memoryEntry),
		stop:    make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

func (c *memoryCache) Get(_ context.Context, key string, dest interface{}) bool {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return false
	}
	return json.Unmarshal(entry.data, dest) == nil
}

func (c *memoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.entries[key] = memoryEntry{data: data, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

func (c *memoryCache) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			c.mu.Lock()
			for key, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

// Close stops the cleanup loop. Safe to call more than once; the cache keeps
// serving reads and writes afterwards.
func (c *memoryCache) Close() {
	c.closeOnce.Do(func() { close(c.stop) })
}
