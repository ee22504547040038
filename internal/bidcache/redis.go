package bidcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	Addr     string
	DB       int
	Password string
	Timeout  time.Duration
}

// RedisCache stores each bid as a hash with an expiry.
type RedisCache struct {
	client  *redis.Client
	timeout time.Duration
}

func NewRedisCache(o RedisOptions) (*RedisCache, error) {
	if o.Addr == "" {
		return nil, errors.New("cache.redis_addr is required for the redis driver")
	}
	timeout := o.Timeout
	if timeout == 0 {
		timeout = 200 * time.Millisecond
	}
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:         o.Addr,
			DB:           o.DB,
			Password:     o.Password,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
			MinIdleConns: 2,
		}),
		timeout: timeout,
	}, nil
}

func (c *RedisCache) Put(ctx context.Context, id string, fields map[string]string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, id, values)
		p.Expire(ctx, id, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put %s: %w", id, err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, id string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	m, err := c.client.HGetAll(ctx, id).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", id, err)
	}
	// HGETALL on a missing key is an empty hash, not redis.Nil.
	if len(m) == 0 {
		return nil, ErrNotFound
	}
	return m, nil
}

// Take reads and deletes the hash inside one MULTI/EXEC.
func (c *RedisCache) Take(ctx context.Context, id string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var get *redis.MapStringStringCmd
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		get = p.HGetAll(ctx, id)
		p.Del(ctx, id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis take %s: %w", id, err)
	}
	m := get.Val()
	if len(m) == 0 {
		return nil, ErrNotFound
	}
	return m, nil
}

func (c *RedisCache) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.Del(ctx, id).Err()
}

// Ping checks if Redis is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
