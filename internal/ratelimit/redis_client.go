package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ZanzyTHEbar/fundscope/internal/monitoring"
)

// RedisConfig addresses the shared rate-limit store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisClient wraps the Redis client. A client without an address, or one
// whose first ping failed, is disabled and limiting stays in memory.
type RedisClient struct {
	client  *redis.Client
	enabled bool
	addr    string
	logger  *slog.Logger
}

// NewRedisClient connects and pings. A ping failure returns a disabled
// client together with the error so callers can log and carry on.
func NewRedisClient(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisClient, error) {
	if logger == nil {
		logger = monitoring.Discard()
	}
	logger = logger.With("component", "redis")

	if cfg.Addr == "" {
		logger.Info("Redis address not configured, rate limiting will use in-memory counters")
		return &RedisClient{logger: logger}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  4 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return &RedisClient{addr: cfg.Addr, logger: logger}, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("Redis client connected", "addr", cfg.Addr, "db", cfg.DB)
	return &RedisClient{client: client, enabled: true, addr: cfg.Addr, logger: logger}, nil
}

// WrapRedisClient adopts an existing client as enabled.
func WrapRedisClient(client *redis.Client) *RedisClient {
	if client == nil {
		return &RedisClient{logger: monitoring.Discard()}
	}
	return &RedisClient{client: client, enabled: true, addr: client.Options().Addr, logger: monitoring.Discard()}
}

// GetClient returns the underlying Redis client
func (r *RedisClient) GetClient() *redis.Client {
	return r.client
}

// IsEnabled returns whether Redis is connected
func (r *RedisClient) IsEnabled() bool {
	return r.enabled
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	if r.enabled && r.client != nil {
		r.logger.Info("Closing Redis client connection")
		return r.client.Close()
	}
	return nil
}

// GetPoolStats returns Redis connection pool statistics
func (r *RedisClient) GetPoolStats() map[string]interface{} {
	if !r.enabled || r.client == nil {
		return map[string]interface{}{"enabled": false}
	}

	stats := r.client.PoolStats()
	return map[string]interface{}{
		"enabled":     true,
		"addr":        r.addr,
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
		"stale_conns": stats.StaleConns,
	}
}
