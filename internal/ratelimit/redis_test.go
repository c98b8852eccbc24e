package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluentvoice/aigateway/internal/provider"
)

func newRedisLimiter(t *testing.T, limits Limits) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, limits), mr
}

func TestRedisCeiling(t *testing.T) {
	r, _ := newRedisLimiter(t, testLimits())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := r.Allow(ctx, "client-x", provider.TextGeneration)
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be admitted", i+1)
	}

	ok, err := r.Allow(ctx, "client-x", provider.TextGeneration)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisServiceIndependence(t *testing.T) {
	r, _ := newRedisLimiter(t, testLimits())
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		r.Allow(ctx, "client-x", provider.TextToSpeech)
	}
	ok, _ := r.Allow(ctx, "client-x", provider.TextToSpeech)
	require.False(t, ok)

	ok, _ = r.Allow(ctx, "client-x", provider.TextGeneration)
	assert.True(t, ok)
}

func TestRedisWindowExpiry(t *testing.T) {
	r, mr := newRedisLimiter(t, testLimits())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r.Allow(ctx, "client-x", provider.TextGeneration)
	}
	ok, _ := r.Allow(ctx, "client-x", provider.TextGeneration)
	require.False(t, ok)

	// miniredis time is frozen; advance it past the window TTL.
	mr.FastForward(time.Minute + time.Second)

	ok, err := r.Allow(ctx, "client-x", provider.TextGeneration)
	require.NoError(t, err)
	assert.True(t, ok, "window key must expire with its TTL")
}

func TestRedisRejectionsDoNotConsumeQuota(t *testing.T) {
	r, mr := newRedisLimiter(t, testLimits())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r.Allow(ctx, "client-x", provider.TextGeneration)
	}
	for i := 0; i < 20; i++ {
		ok, _ := r.Allow(ctx, "client-x", provider.TextGeneration)
		require.False(t, ok)
	}

	// The over-ceiling increments were refunded, so the counter sits
	// exactly at the ceiling.
	val, err := mr.Get(keyPrefix + "llm:client-x")
	require.NoError(t, err)
	assert.Equal(t, "5", val)
}

func TestRedisFailsOpenWhenDown(t *testing.T) {
	r, mr := newRedisLimiter(t, testLimits())
	ctx := context.Background()

	mr.Close()

	ok, err := r.Allow(ctx, "client-x", provider.TextGeneration)
	assert.True(t, ok, "admission must fail open when redis is unreachable")
	assert.Error(t, err, "the degradation is still reported to the caller")
}

func TestRedisUnlimitedService(t *testing.T) {
	r, _ := newRedisLimiter(t, Limits{})
	ctx := context.Background()

	ok, err := r.Allow(ctx, "client-x", provider.SpeechToText)
	require.NoError(t, err)
	assert.True(t, ok)
}
