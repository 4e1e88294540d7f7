package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CampaignCache maps campaign external ids to internal ids.
type CampaignCache interface {
	Get(ctx context.Context, externalID string) (string, bool, error)
	Put(ctx context.Context, externalID, id string) error
}

// MemoryCache is a process-local CampaignCache. Campaign ids never change
// once assigned, so entries do not expire.
type MemoryCache struct {
	mu  sync.RWMutex
	ids map[string]string
}

// NewMemoryCache returns an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{ids: map[string]string{}}
}

func (c *MemoryCache) Get(_ context.Context, externalID string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ids[externalID]
	return id, ok, nil
}

func (c *MemoryCache) Put(_ context.Context, externalID, id string) error {
	c.mu.Lock()
	c.ids[externalID] = id
	c.mu.Unlock()
	return nil
}

// Len reports the number of cached campaigns.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}

// RedisCache shares campaign ids between daemons.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// OpenRedisCache connects to url and verifies the server answers PING.
func OpenRedisCache(ctx context.Context, url, prefix string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisCache(client, prefix, ttl), nil
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// Key returns the redis key for a campaign external id.
func (c *RedisCache) Key(externalID string) string {
	return c.prefix + externalID
}

func (c *RedisCache) Get(ctx context.Context, externalID string) (string, bool, error) {
	id, err := c.client.Get(ctx, c.Key(externalID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get campaign: %w", err)
	}
	return id, true, nil
}

func (c *RedisCache) Put(ctx context.Context, externalID, id string) error {
	if err := c.client.Set(ctx, c.Key(externalID), id, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set campaign: %w", err)
	}
	return nil
}

// Close releases the redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
