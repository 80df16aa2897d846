package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerpulse/peerpulse/internal/monitoring"
)

func fallbackLimiter(config Config) *RateLimiter {
	return NewRateLimiter(&RedisClient{enabled: false}, config, monitoring.NewMetrics())
}

func TestRateLimiterFallbackBlocksAfterBurst(t *testing.T) {
	config := Config{
		IPLimitPerMin:    5,
		WriteLimitPerMin: 2,
		BurstMultiplier:  1,
	}
	limiter := fallbackLimiter(config)

	ctx := context.Background()

	// Burst capacity floors at 5 tokens; they drain without refill inside
	// a tight loop.
	allowed := 0
	for i := 0; i < 10; i++ {
		result, err := limiter.AllowIP(ctx, "10.0.0.1")
		require.NoError(t, err)
		if result.Allowed {
			allowed++
		}
	}

	assert.Equal(t, 5, allowed)

	result, err := limiter.AllowIP(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Greater(t, result.RetryAfter, time.Duration(0))
}

func TestRateLimiterIsolatesKeys(t *testing.T) {
	limiter := fallbackLimiter(DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := limiter.AllowIP(ctx, "10.0.0.1")
		require.NoError(t, err)
	}

	result, err := limiter.AllowIP(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, result.Allowed, "a fresh IP starts with a full bucket")
}

func TestRateLimiterEndpointKeysAreSeparate(t *testing.T) {
	limiter := fallbackLimiter(DefaultConfig())
	ctx := context.Background()

	// Exhaust the endpoint budget without touching the IP budget.
	for i := 0; i < 30; i++ {
		_, err := limiter.allow(ctx, "ratelimit:endpoint:evaluations:10.0.0.3", 2, time.Minute)
		require.NoError(t, err)
	}

	endpointResult, err := limiter.allow(ctx, "ratelimit:endpoint:evaluations:10.0.0.3", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, endpointResult.Allowed)

	ipResult, err := limiter.AllowIP(ctx, "10.0.0.3")
	require.NoError(t, err)
	assert.True(t, ipResult.Allowed)
}

func TestRateLimiterStats(t *testing.T) {
	limiter := fallbackLimiter(DefaultConfig())

	_, err := limiter.AllowIP(context.Background(), "10.0.0.4")
	require.NoError(t, err)

	stats := limiter.GetStats()
	assert.Equal(t, false, stats["redis_enabled"])
	assert.Equal(t, 1, stats["fallback_limiters"])
}
