package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiter_BurstThenRetryAfter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewLocalLimiter(map[string]BucketConfig{"telegram:send": {Capacity: 2, RefillRate: 1}})
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, retry, err := l.Allow(ctx, "telegram:send", 1)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Zero(t, retry)
	}
	ok, retry, err := l.Allow(ctx, "telegram:send", 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.InDelta(t, float64(time.Second), float64(retry), float64(10*time.Millisecond))

	// a denied call does not consume tokens
	now = now.Add(time.Second)
	ok, _, err = l.Allow(ctx, "telegram:send", 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalLimiter_UnknownKeyAndNil(t *testing.T) {
	l := NewLocalLimiter(nil)
	ok, _, err := l.Allow(context.Background(), "other", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	var nilLimiter *LocalLimiter
	ok, _, err = nilLimiter.Allow(context.Background(), "other", 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalLimiter_WithWait(t *testing.T) {
	l := NewLocalLimiter(map[string]BucketConfig{"k": {Capacity: 1, RefillRate: 50}})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, Wait(ctx, l, "k"))
	require.NoError(t, Wait(ctx, l, "k"))
}
