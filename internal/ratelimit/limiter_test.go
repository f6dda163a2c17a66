package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/fundscope/internal/clock"
	"github.com/ZanzyTHEbar/fundscope/internal/monitoring"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func TestMemoryLimiterFixedWindow(t *testing.T) {
	clk := clock.NewFake(t0)
	l := NewMemoryLimiter(Config{Limit: 3, Window: time.Minute}, clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "ip:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 2-i, res.Remaining)
	}

	clk.Advance(15 * time.Second)
	res, err := l.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 45*time.Second, res.RetryAfter)
	assert.Equal(t, t0.Add(time.Minute), res.ResetAt)

	// other keys are independent
	other, err := l.Allow(ctx, "ip:5.6.7.8")
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	clk.Advance(45 * time.Second)
	res, err = l.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "window should reset at its end")
	assert.Equal(t, 2, res.Remaining)
}

func TestMemoryLimiterReset(t *testing.T) {
	l := NewMemoryLimiter(Config{Limit: 1, Window: time.Hour}, clock.NewFake(t0))
	ctx := context.Background()

	res, _ := l.Allow(ctx, "k")
	assert.True(t, res.Allowed)
	res, _ = l.Allow(ctx, "k")
	assert.False(t, res.Allowed)

	require.NoError(t, l.Reset(ctx, "k"))
	res, _ = l.Allow(ctx, "k")
	assert.True(t, res.Allowed)
}

func TestMemoryLimiterPrunesExpiredKeys(t *testing.T) {
	clk := clock.NewFake(t0)
	l := NewMemoryLimiter(Config{Limit: 5, Window: time.Minute, MaxKeys: 3}, clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = l.Allow(ctx, fmt.Sprintf("k%d", i))
	}
	assert.Equal(t, 3, l.Len())

	clk.Advance(2 * time.Minute)
	_, _ = l.Allow(ctx, "fresh")
	assert.Equal(t, 1, l.Len())
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	l := NewMemoryLimiter(Config{Limit: 50, Window: time.Minute}, clock.NewFake(t0))
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Allow(ctx, "shared")
			if err == nil && res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestNewLimiterWithoutRedisUsesMemory(t *testing.T) {
	client, err := NewRedisClient(context.Background(), RedisConfig{}, nil)
	require.NoError(t, err)
	assert.False(t, client.IsEnabled())

	l := NewLimiter(client, Config{Limit: 1}, clock.NewFake(t0), nil, nil)
	_, ok := l.(*MemoryLimiter)
	assert.True(t, ok)
}

func TestRedisLimiterFallsBackOnError(t *testing.T) {
	// nothing listens on port 1, so every Redis call fails fast
	rc := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	defer rc.Close()

	metrics := monitoring.NewMetrics()
	l := NewRedisLimiter(WrapRedisClient(rc), Config{Limit: 2, Window: time.Minute}, clock.NewFake(t0), metrics, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "ip:9.9.9.9")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := l.Allow(ctx, "ip:9.9.9.9")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	rl := metrics.GetStats()["rate_limit"].(map[string]int64)
	assert.Equal(t, int64(3), rl["redis_errors"])
	assert.Equal(t, int64(3), rl["fallback_count"])
}
