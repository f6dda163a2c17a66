package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/ZanzyTHEbar/fundscope/internal/accountability"
	"github.com/ZanzyTHEbar/fundscope/internal/adapters"
	"github.com/ZanzyTHEbar/fundscope/internal/clock"
	"github.com/ZanzyTHEbar/fundscope/internal/config"
	"github.com/ZanzyTHEbar/fundscope/internal/currency"
	"github.com/ZanzyTHEbar/fundscope/internal/database"
	"github.com/ZanzyTHEbar/fundscope/internal/dispute"
	"github.com/ZanzyTHEbar/fundscope/internal/ingest"
	"github.com/ZanzyTHEbar/fundscope/internal/monitoring"
	"github.com/ZanzyTHEbar/fundscope/internal/roi"
	"github.com/ZanzyTHEbar/fundscope/internal/rollup"
	"github.com/ZanzyTHEbar/fundscope/internal/signals"
)

// app holds the services every command is built from.
type app struct {
	cfg     *config.Config
	logger  *monitoring.Logger
	metrics *monitoring.Metrics
	clock   clock.Clock

	db         *database.DB
	repo       *database.Repository
	normalizer *currency.Normalizer

	roi            *roi.Service
	accountability *accountability.Service
	disputes       *dispute.Workflow
	rollups        *rollup.Sweeper
	collector      *signals.Collector
	// ingester is nil when no proposal feed is configured.
	ingester *ingest.Ingester
}

func newApp(cfg *config.Config) (*app, error) {
	logger := monitoring.NewLogger(cfg.Log.Level, os.Stderr)
	slog.SetDefault(logger.Logger)

	db, err := database.NewDB(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: monitoring.NewMetrics(),
		clock:   clock.System(),
		db:      db,
		repo:    database.NewRepository(db),
	}
	base := logger.Logger

	a.normalizer = currency.NewNormalizer(cfg.Currency.ADAUSDRate, cfg.CutoffFund(), base)
	a.roi = roi.NewService(a.repo, a.normalizer, a.clock, roi.Options{
		Params:      cfg.ROIParams(),
		Ties:        cfg.TieMode(),
		Concurrency: cfg.Batch.Concurrency,
	}, a.metrics, base)
	a.accountability = accountability.NewService(a.repo, a.normalizer, a.clock, accountability.Options{
		AutoPublish: cfg.Accountability.AutoPublish,
		Concurrency: cfg.Batch.Concurrency,
	}, a.metrics, base)
	a.disputes = dispute.NewWorkflow(a.repo, a.clock, base)
	a.rollups = rollup.NewSweeper(a.repo, a.normalizer, a.clock, a.metrics, base)

	github := adapters.NewGitHubAdapter(adapters.GitHubConfig{
		Token:             cfg.GitHub.Token,
		BaseURL:           cfg.GitHub.BaseURL,
		RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
		RetryMax:          3,
	}, a.clock, a.metrics, base)

	// Without a project id every Blockfrost call would be rejected, so the
	// on-chain source is reported as disabled instead.
	var chain signals.OnChainSource
	if cfg.Blockfrost.ProjectID != "" {
		chain = adapters.NewBlockfrostAdapter(adapters.BlockfrostConfig{
			ProjectID:         cfg.Blockfrost.ProjectID,
			BaseURL:           cfg.Blockfrost.BaseURL,
			RequestsPerSecond: cfg.Blockfrost.RequestsPerSecond,
			RetryMax:          3,
		}, a.clock, a.metrics, base)
	} else {
		base.Warn("blockfrost.project_id not set, on-chain signals disabled")
	}

	a.collector = signals.NewCollector(a.repo, github, chain, a.clock, signals.Options{
		SourceTimeout: cfg.Signals.SourceTimeout,
		Concurrency:   cfg.Batch.Concurrency,
	}, a.metrics, base)

	if cfg.Proposals.BaseURL != "" {
		feed := adapters.NewProposalAdapter(adapters.ProposalConfig{
			BaseURL:  cfg.Proposals.BaseURL,
			RetryMax: 3,
		}, a.clock, a.metrics, base)
		a.ingester = ingest.NewIngester(a.repo, feed, a.normalizer, a.clock, a.metrics, base)
	}

	return a, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error("Failed to close database", "error", err)
	}
}

// runContext bounds a batch command. Zero means no deadline.
func runContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
