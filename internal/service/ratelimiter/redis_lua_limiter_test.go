package ratelimiter

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLuaLimiter(t *testing.T, buckets map[string]BucketConfig) (*RedisLuaLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisLuaLimiter(rdb, buckets), mr
}

func TestAllow_NilLimiter_FailOpen(t *testing.T) {
	var limiter *RedisLuaLimiter

	allowed, retryAfter, err := limiter.Allow(context.Background(), "any", 1)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Zero(t, retryAfter)
	assert.NoError(t, limiter.Ping(context.Background()))
	assert.Nil(t, NewRedisLuaLimiter(nil, nil))
}

func TestAllow_NoBucketConfig_FailOpen(t *testing.T) {
	limiter, _ := newTestRedisLuaLimiter(t, nil)

	allowed, retryAfter, err := limiter.Allow(context.Background(), "unknown-bucket", 1)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Zero(t, retryAfter)
}

func TestAllow_WithBucket_RespectsCapacityAndRetryAfter(t *testing.T) {
	ctx := context.Background()
	key := "telegram"
	limiter, mr := newTestRedisLuaLimiter(t, map[string]BucketConfig{key: {Capacity: 3, RefillRate: 1}})
	fixed := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return fixed }

	for i := 0; i < 3; i++ {
		allowed, retryAfter, err := limiter.Allow(ctx, key, 1)
		require.NoError(t, err)
		assert.True(t, allowed, "call %d", i)
		assert.Zero(t, retryAfter)
	}

	allowed, retryAfter, err := limiter.Allow(ctx, key, 1)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, time.Second, retryAfter)
	assert.True(t, mr.Exists("askrelay:rate:telegram"))
	assert.Greater(t, mr.TTL("askrelay:rate:telegram"), time.Duration(0))

	// refilled after a second
	fixed = fixed.Add(time.Second)
	allowed, _, err = limiter.Allow(ctx, key, 1)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestAllow_RedisDown_FailOpen(t *testing.T) {
	limiter, mr := newTestRedisLuaLimiter(t, map[string]BucketConfig{"k": NewBucketConfigFromPerMinute(1)})
	mr.Close()

	allowed, _, err := limiter.Allow(context.Background(), "k", 1)
	require.Error(t, err)
	assert.True(t, allowed)
	assert.Error(t, limiter.Ping(context.Background()))
}

func TestNewBucketConfigFromPerMinute(t *testing.T) {
	cfg := NewBucketConfigFromPerMinute(60)
	assert.Equal(t, int64(60), cfg.Capacity)
	assert.Equal(t, 1.0, cfg.RefillRate)

	assert.Equal(t, BucketConfig{}, NewBucketConfigFromPerMinute(0))
}

func TestNewRedisLuaLimiter_CopiesBuckets(t *testing.T) {
	buckets := map[string]BucketConfig{"k": {Capacity: 1, RefillRate: 1}}
	limiter, _ := newTestRedisLuaLimiter(t, buckets)
	buckets["k"] = BucketConfig{}

	ctx := context.Background()
	allowed, _, err := limiter.Allow(ctx, "k", 1)
	require.NoError(t, err)
	assert.True(t, allowed)
	allowed, _, err = limiter.Allow(ctx, "k", 1)
	require.NoError(t, err)
	assert.False(t, allowed)
}

type scriptedLimiter struct {
	results []bool
	err     error
	calls   int
}

func (s *scriptedLimiter) Allow(context.Context, string, int64) (bool, time.Duration, error) {
	i := s.calls
	s.calls++
	if s.err != nil {
		return true, 0, s.err
	}
	if i < len(s.results) {
		return s.results[i], time.Millisecond, nil
	}
	return true, 0, nil
}

func TestWait(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, Wait(ctx, nil, "k"))

	l := &scriptedLimiter{results: []bool{false, false, true}}
	require.NoError(t, Wait(ctx, l, "k"))
	assert.Equal(t, 3, l.calls)

	l = &scriptedLimiter{err: errors.New("redis down")}
	require.NoError(t, Wait(ctx, l, "k"))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	l = &scriptedLimiter{results: []bool{false, false, false}}
	require.ErrorIs(t, Wait(cctx, l, "k"), context.Canceled)
}

func TestToInt64(t *testing.T) {
	assert.Equal(t, int64(5), toInt64(int64(5)))
	assert.Equal(t, int64(3), toInt64(3))
	assert.Equal(t, int64(7), toInt64(7.9))
	assert.Equal(t, int64(0), toInt64("x"))
}
