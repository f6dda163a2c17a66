package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/fundscope/internal/accountability"
	"github.com/ZanzyTHEbar/fundscope/internal/cache"
	"github.com/ZanzyTHEbar/fundscope/internal/database"
	"github.com/ZanzyTHEbar/fundscope/internal/dispute"
	apperrors "github.com/ZanzyTHEbar/fundscope/internal/errors"
	"github.com/ZanzyTHEbar/fundscope/internal/ingest"
	"github.com/ZanzyTHEbar/fundscope/internal/monitoring"
	"github.com/ZanzyTHEbar/fundscope/internal/ratelimit"
	"github.com/ZanzyTHEbar/fundscope/internal/roi"
	"github.com/ZanzyTHEbar/fundscope/internal/rollup"
	"github.com/ZanzyTHEbar/fundscope/internal/signals"
)

// Deps are the collaborators the HTTP surface serves. Collector, Ingester,
// Limiter and Cache may be nil; their routes or middleware are then left
// out.
type Deps struct {
	Repo           *database.Repository
	ROI            *roi.Service
	Accountability *accountability.Service
	Disputes       *dispute.Workflow
	Rollups        *rollup.Sweeper
	Collector      *signals.Collector
	Ingester       *ingest.Ingester
	Limiter        ratelimit.Limiter
	Cache          *cache.ResponseCache
	Auth           *Authenticator
	Metrics        *monitoring.Metrics
	Logger         *monitoring.Logger

	// Health lists extra stats blocks for GET /health.
	Health []monitoring.Component

	Version        string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Server is the gin engine plus the services behind it.
type Server struct {
	deps   Deps
	engine *gin.Engine
	logger *slog.Logger
}

// NewServer builds the engine with its middleware chain and routes.
func NewServer(deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = &monitoring.Logger{Logger: monitoring.Discard()}
	}
	if deps.Auth == nil {
		deps.Auth = NewAuthenticator("", nil)
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 30 * time.Second
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	s := &Server{
		deps:   deps,
		engine: gin.New(),
		logger: deps.Logger.With("component", "api"),
	}

	r := s.engine
	r.Use(monitoring.MonitoringMiddleware(deps.Metrics, deps.Logger))
	r.Use(apperrors.ErrorHandler())
	r.Use(apperrors.RecoveryHandler())
	r.Use(cors.New(corsConfig(deps.AllowedOrigins)))
	r.Use(SecurityHeaders())
	r.Use(ValidateContentType())
	r.Use(deps.Auth.Middleware())
	if deps.Limiter != nil {
		r.Use(ratelimit.Middleware(deps.Limiter, ratelimit.ActorOrIPKey(ActorKey), deps.Metrics, s.logger))
	}

	r.GET("/health", monitoring.HealthHandler(deps.Metrics, deps.Version, deps.Health...))
	s.routes()
	return s
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func (s *Server) routes() {
	v1 := s.engine.Group("/api/v1")
	if s.deps.Cache != nil {
		v1.Use(s.deps.Cache.Middleware())
	}

	read := v1.Group("", RequestTimeout(s.deps.RequestTimeout))
	read.GET("/funds", s.listFunds)
	read.GET("/funds/:id", s.getFund)
	read.GET("/projects", s.listProjects)
	read.GET("/projects/:id", s.getProject)
	read.GET("/projects/:id/roi", s.currentROI)
	read.GET("/projects/:id/roi/history", s.roiHistory)
	read.GET("/roi/export.csv", s.exportROI)
	read.GET("/people/:id", s.getPerson)
	read.GET("/people/:id/accountability", s.visibleScore)
	read.GET("/accountability", s.publishedScores)
	read.GET("/scores/:id/disputes", s.listDisputes)
	read.GET("/scores/:id/audit", s.auditHistory)

	member := v1.Group("", RequestTimeout(s.deps.RequestTimeout), RequireRole())
	member.POST("/scores/:id/disputes", s.fileDispute)

	reviewer := v1.Group("", RequestTimeout(s.deps.RequestTimeout), RequireRole(RoleReviewer))
	reviewer.POST("/disputes/:id/resolve", s.resolveDispute)

	// Recalculation can sweep every project, so admin routes keep the
	// caller's context without the per-request timeout.
	admin := v1.Group("/admin", RequireRole(RoleAdmin))
	admin.POST("/projects/:id/roi", s.calculateROI)
	admin.POST("/people/:id/accountability", s.recalculatePerson)
	admin.POST("/roi/recalculate", s.recalculateROI)
	admin.POST("/roi/percentiles", s.percentiles)
	admin.POST("/accountability/recalculate", s.recalculateAccountability)
	admin.POST("/rollups", s.runRollups)
	if s.deps.Collector != nil {
		admin.POST("/projects/:id/signals", s.refreshSignals)
		admin.POST("/sync/signals", s.syncSignals)
	}
	if s.deps.Ingester != nil {
		admin.POST("/sync/proposals", s.syncProposals)
		admin.POST("/sync/proposals/:external_id", s.syncProposal)
	}
}

// Handler exposes the engine for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is cancelled, then drains in-flight
// requests for up to 30 seconds.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening", "addr", addr, "version", s.deps.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.logger.Info("Server exited")
	return nil
}
