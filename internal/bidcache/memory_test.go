package bidcache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(0)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	fields := map[string]string{FieldAdM: "<img>", FieldPrice: "1.5"}
	require.NoError(t, c.Put(ctx, "bid-1", fields, time.Minute))

	got, err := c.Get(ctx, "bid-1")
	require.NoError(t, err)
	assert.Equal(t, fields, got)

	got[FieldAdM] = "mutated"
	again, err := c.Get(ctx, "bid-1")
	require.NoError(t, err)
	assert.Equal(t, "<img>", again[FieldAdM])

	require.NoError(t, c.Delete(ctx, "bid-1"))
	_, err = c.Get(ctx, "bid-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, c.Delete(ctx, "never-stored"))
}

func TestMemoryCache_TakeOnce(t *testing.T) {
	c := NewMemoryCache(0)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	_, err := c.Take(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Put(ctx, "bid-1", map[string]string{FieldPrice: "2"}, time.Minute))

	var (
		wg    sync.WaitGroup
		taken atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fields, err := c.Take(ctx, "bid-1")
			if err == nil {
				taken.Add(1)
				assert.Equal(t, "2", fields[FieldPrice])
				return
			}
			assert.ErrorIs(t, err, ErrNotFound)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), taken.Load())
	_, err = c.Get(ctx, "bid-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(0)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "short", map[string]string{FieldPrice: "1"}, 20*time.Millisecond))

	assert.Eventually(t, func() bool {
		_, err := c.Get(ctx, "short")
		return err == ErrNotFound
	}, time.Second, 10*time.Millisecond)
}

func TestNewRedisCache_RequiresAddr(t *testing.T) {
	_, err := NewRedisCache(RedisOptions{})
	assert.Error(t, err)

	c, err := NewRedisCache(RedisOptions{Addr: "127.0.0.1:0"})
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, c.timeout)
	assert.NoError(t, c.Close())
}
