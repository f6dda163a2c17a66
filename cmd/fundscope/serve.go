package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/fundscope/internal/api"
	"github.com/ZanzyTHEbar/fundscope/internal/cache"
	"github.com/ZanzyTHEbar/fundscope/internal/monitoring"
	"github.com/ZanzyTHEbar/fundscope/internal/ratelimit"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON/CSV API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides http.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := ratelimit.NewRedisClient(ctx, ratelimit.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, a.logger.Logger)
	if err != nil {
		a.logger.Warn("Redis unavailable, continuing with in-memory rate limiting", "error", err)
	}
	defer redisClient.Close()

	limiter := ratelimit.NewLimiter(redisClient, ratelimit.Config{
		Limit:  cfg.RateLimit.RequestsPerMinute,
		Window: time.Minute,
	}, a.clock, a.metrics, a.logger.Logger)

	auth := api.NewAuthenticator(cfg.Auth.JWTSecret, a.clock)
	if !auth.Enabled() {
		a.logger.Warn("auth.jwt_secret not set, protected routes will reject every request")
	}

	health := []monitoring.Component{
		{Name: "database", Stats: a.db.GetPoolStats},
		{Name: "redis", Stats: redisClient.GetPoolStats},
	}

	var responses *cache.ResponseCache
	if cfg.HTTP.CacheTTL > 0 {
		responses = cache.NewResponseCache(cfg.HTTP.CacheTTL, a.metrics, a.logger.Logger)
		health = append(health, monitoring.Component{Name: "response_cache", Stats: responses.Stats})
	}

	server := api.NewServer(api.Deps{
		Repo:           a.repo,
		ROI:            a.roi,
		Accountability: a.accountability,
		Disputes:       a.disputes,
		Rollups:        a.rollups,
		Collector:      a.collector,
		Ingester:       a.ingester,
		Limiter:        limiter,
		Cache:          responses,
		Health:         health,
		Auth:           auth,
		Metrics:        a.metrics,
		Logger:         a.logger,
		Version:        version,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})

	port := cfg.HTTP.Port
	if servePort > 0 {
		port = servePort
	}
	return server.Run(ctx, fmt.Sprintf(":%d", port))
}
