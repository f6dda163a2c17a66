package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"

	"github.com/ZanzyTHEbar/fundscope/internal/clock"
	"github.com/ZanzyTHEbar/fundscope/internal/monitoring"
)

// Config holds rate limiter configuration
type Config struct {
	Limit  int           // requests allowed per window
	Window time.Duration // window length
	// MaxKeys bounds the in-memory key table before expired windows are pruned.
	MaxKeys int
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() Config {
	return Config{
		Limit:   60,
		Window:  time.Minute,
		MaxKeys: 10000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Limit <= 0 {
		c.Limit = d.Limit
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = d.MaxKeys
	}
	return c
}

// Result represents the result of a rate limit check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (*Result, error)
	Reset(ctx context.Context, key string) error
}

type window struct {
	start time.Time
	count int
}

// MemoryLimiter is a fixed-window counter per key, driven by an injected
// clock. It is safe for concurrent use.
type MemoryLimiter struct {
	config Config
	clock  clock.Clock

	mu      sync.Mutex
	windows map[string]*window
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter(config Config, clk clock.Clock) *MemoryLimiter {
	if clk == nil {
		clk = clock.System()
	}
	return &MemoryLimiter{
		config:  config.withDefaults(),
		clock:   clk,
		windows: make(map[string]*window),
	}
}

// Allow counts one request against key.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (*Result, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || !now.Before(w.start.Add(m.config.Window)) {
		if !ok && len(m.windows) >= m.config.MaxKeys {
			m.pruneLocked(now)
		}
		w = &window{start: now}
		m.windows[key] = w
	}

	resetAt := w.start.Add(m.config.Window)
	if w.count >= m.config.Limit {
		return &Result{
			Allowed:    false,
			Limit:      m.config.Limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}, nil
	}

	w.count++
	return &Result{
		Allowed:   true,
		Limit:     m.config.Limit,
		Remaining: m.config.Limit - w.count,
		ResetAt:   resetAt,
	}, nil
}

// Reset forgets the window of key.
func (m *MemoryLimiter) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.windows, key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of tracked keys.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

func (m *MemoryLimiter) pruneLocked(now time.Time) {
	for k, w := range m.windows {
		if !now.Before(w.start.Add(m.config.Window)) {
			delete(m.windows, k)
		}
	}
}

// RedisLimiter shares limits across processes through redis_rate. When a
// Redis call fails the request is decided by an in-memory fallback instead.
type RedisLimiter struct {
	limiter  *redis_rate.Limiter
	limit    redis_rate.Limit
	fallback *MemoryLimiter
	clock    clock.Clock
	metrics  *monitoring.Metrics
	logger   *slog.Logger
}

// NewRedisLimiter creates a distributed limiter on top of client.
func NewRedisLimiter(client *RedisClient, config Config, clk clock.Clock, metrics *monitoring.Metrics, logger *slog.Logger) *RedisLimiter {
	config = config.withDefaults()
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = monitoring.Discard()
	}
	return &RedisLimiter{
		limiter: redis_rate.NewLimiter(client.GetClient()),
		limit: redis_rate.Limit{
			Rate:   config.Limit,
			Burst:  config.Limit,
			Period: config.Window,
		},
		fallback: NewMemoryLimiter(config, clk),
		clock:    clk,
		metrics:  metrics,
		logger:   logger,
	}
}

func redisKey(key string) string { return "ratelimit:" + key }

// Allow checks key against Redis, falling back to memory on error.
func (r *RedisLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	res, err := r.limiter.Allow(ctx, redisKey(key), r.limit)
	if err != nil {
		r.logger.Warn("Redis rate limit check failed, using fallback", "key", key, "error", err)
		if r.metrics != nil {
			r.metrics.IncrementRateLimitRedisError()
			r.metrics.IncrementRateLimitFallback()
		}
		return r.fallback.Allow(ctx, key)
	}

	out := &Result{
		Allowed:   res.Allowed > 0,
		Limit:     res.Limit.Rate,
		Remaining: res.Remaining,
		ResetAt:   r.clock.Now().Add(res.ResetAfter),
	}
	if !out.Allowed {
		out.RetryAfter = res.RetryAfter
	}
	return out, nil
}

// Reset clears key in Redis and in the fallback.
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	_ = r.fallback.Reset(ctx, key)
	if err := r.limiter.Reset(ctx, redisKey(key)); err != nil {
		return fmt.Errorf("redis rate limit reset failed: %w", err)
	}
	return nil
}

// NewLimiter picks the Redis limiter when client is connected, otherwise
// the in-memory one.
func NewLimiter(client *RedisClient, config Config, clk clock.Clock, metrics *monitoring.Metrics, logger *slog.Logger) Limiter {
	if logger == nil {
		logger = monitoring.Discard()
	}
	logger = logger.With("component", "ratelimit")
	if client != nil && client.IsEnabled() {
		logger.Info("Redis rate limiter initialized")
		return NewRedisLimiter(client, config, clk, metrics, logger)
	}
	logger.Warn("Redis unavailable, using in-memory rate limiting only")
	return NewMemoryLimiter(config, clk)
}
