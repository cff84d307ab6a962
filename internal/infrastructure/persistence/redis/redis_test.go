package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewClientFromRedis(rdb), mr
}

func TestRateLimiter_Allow(t *testing.T) {
	client, _ := newTestClient(t)
	limiter := NewRateLimiter(client)
	ctx := context.Background()
	key := BuildRateLimitKey("203.0.113.7", "/v1/generate-text")

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i)
	}

	allowed, err := limiter.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	remaining, err := limiter.Remaining(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	require.NoError(t, limiter.Reset(ctx, key))
	remaining, err = limiter.Remaining(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	client, _ := newTestClient(t)
	limiter := NewRateLimiter(client)
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, BuildRateLimitKey("a", "/x"), 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, BuildRateLimitKey("b", "/x"), 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestCache_GetOrLoadSafe(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewCache(client)
	ctx := context.Background()

	var loads int32
	loader := func() (interface{}, error) {
		atomic.AddInt32(&loads, 1)
		time.Sleep(10 * time.Millisecond)
		return "Jules", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			val, err := cache.GetOrLoadSafe(ctx, ProfileKey("u1"), time.Minute, loader)
			assert.NoError(t, err)
			assert.JSONEq(t, `"Jules"`, string(val))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
	assert.True(t, mr.Exists("kalligram:"+ProfileKey("u1")))

	val, err := cache.Get(ctx, ProfileKey("u1"))
	require.NoError(t, err)
	assert.JSONEq(t, `"Jules"`, string(val))

	require.NoError(t, cache.Delete(ctx, ProfileKey("u1")))
	_, err = cache.Get(ctx, ProfileKey("u1"))
	assert.True(t, IsNil(err))
}

func TestCache_LoaderErrorNotCached(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewCache(client)

	_, err := cache.GetOrLoadSafe(context.Background(), "k", time.Minute, func() (interface{}, error) {
		return nil, errors.New("store down")
	})
	assert.Error(t, err)
	assert.False(t, mr.Exists("kalligram:k"))
}

func TestClient_HealthCheck(t *testing.T) {
	client, mr := newTestClient(t)
	assert.NoError(t, client.HealthCheck(context.Background()))

	mr.Close()
	assert.Error(t, client.HealthCheck(context.Background()))
}
