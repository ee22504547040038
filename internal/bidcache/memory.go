package bidcache

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/Velocidex/ttlcache/v2"
)

// MemoryCache is a process-local Cache for single-instance deployments and
// tests.
type MemoryCache struct {
	lru *ttlcache.Cache
	mu  sync.Mutex // serializes Take
}

// NewMemoryCache bounds the cache to limit entries when limit > 0.
func NewMemoryCache(limit int) *MemoryCache {
	c := &MemoryCache{lru: ttlcache.NewCache()}
	c.lru.SkipTTLExtensionOnHit(true)
	if limit > 0 {
		c.lru.SetCacheSizeLimit(limit)
	}
	return c
}

func (c *MemoryCache) Put(_ context.Context, id string, fields map[string]string, ttl time.Duration) error {
	return c.lru.SetWithTTL(id, maps.Clone(fields), ttl)
}

func (c *MemoryCache) Get(_ context.Context, id string) (map[string]string, error) {
	v, err := c.lru.Get(id)
	if errors.Is(err, ttlcache.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return maps.Clone(v.(map[string]string)), nil
}

func (c *MemoryCache) Take(_ context.Context, id string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, err := c.lru.Get(id)
	if errors.Is(err, ttlcache.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := c.lru.Remove(id); err != nil && !errors.Is(err, ttlcache.ErrNotFound) {
		return nil, err
	}
	return maps.Clone(v.(map[string]string)), nil
}

func (c *MemoryCache) Delete(_ context.Context, id string) error {
	err := c.lru.Remove(id)
	if errors.Is(err, ttlcache.ErrNotFound) {
		return nil
	}
	return err
}

func (c *MemoryCache) Close() error {
	return c.lru.Close()
}
