// Package roi appends ROI snapshots for projects and ranks the latest
// snapshots into percentiles.
package roi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ZanzyTHEbar/fundscope/internal/analysis"
	"github.com/ZanzyTHEbar/fundscope/internal/clock"
	"github.com/ZanzyTHEbar/fundscope/internal/currency"
	"github.com/ZanzyTHEbar/fundscope/internal/database"
	"github.com/ZanzyTHEbar/fundscope/internal/monitoring"
	"github.com/alitto/pond/v2"
)

// UncategorizedGroup holds projects without a category when ranking.
const UncategorizedGroup = "uncategorized"

// Options tunes calculation and ranking.
type Options struct {
	Params      analysis.ROIParams
	Ties        analysis.TieMode
	Concurrency int
}

// Service calculates ROI for projects.
type Service struct {
	repo       *database.Repository
	normalizer *currency.Normalizer
	clock      clock.Clock
	opts       Options
	metrics    *monitoring.Metrics
	logger     *slog.Logger
}

// NewService creates a new ROI service. metrics may be nil.
func NewService(repo *database.Repository, normalizer *currency.Normalizer, clk clock.Clock, opts Options, metrics *monitoring.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = monitoring.Discard()
	}
	if clk == nil {
		clk = clock.System()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Ties == "" {
		opts.Ties = analysis.TiePositional
	}
	return &Service{
		repo:       repo,
		normalizer: normalizer,
		clock:      clk,
		opts:       opts,
		metrics:    metrics,
		logger:     logger.With("component", "roi"),
	}
}

// Result is one calculation: the appended record plus the normalization
// that produced its funding figure.
type Result struct {
	Record    *database.ROIRecord       `json:"record"`
	Breakdown analysis.OutcomeBreakdown `json:"breakdown"`
	Funding   currency.Normalized       `json:"funding"`
	ROI       analysis.ROIValue         `json:"roi"`
}

// CalculateProjectROI scores a project's current signals and appends a new
// ROI record. It returns nil, nil when the project does not exist. Funding
// is the received amount when positive, otherwise the requested amount.
func (s *Service) CalculateProjectROI(ctx context.Context, projectID string) (*Result, error) {
	project, err := s.repo.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	milestones, err := s.repo.ListMilestones(ctx, projectID)
	if err != nil {
		return nil, err
	}

	breakdown := analysis.ScoreOutcome(project.Signals(milestones))

	amount := project.AmountReceived
	if !(amount > 0) {
		amount = project.AmountRequested
	}
	funding := s.normalizer.Normalize(amount, project.FundNumber, currency.Currency(project.Currency))
	value := analysis.CalculateROI(breakdown.OutcomeScore, funding.Amount, s.opts.Params)

	rec := &database.ROIRecord{
		ProjectID:         project.ID,
		RepositoryScore:   breakdown.Repository.Score,
		RepositoryWeight:  breakdown.Repository.Weight,
		DeliverableScore:  breakdown.Deliverables.Score,
		DeliverableWeight: breakdown.Deliverables.Weight,
		OnChainScore:      breakdown.OnChain.Score,
		OnChainWeight:     breakdown.OnChain.Weight,
		CommunityScore:    breakdown.Community.Score,
		CommunityWeight:   breakdown.Community.Weight,
		OutcomeScore:      breakdown.OutcomeScore,
		Badge:             string(breakdown.Badge),
		FundingAmount:     funding.Original,
		FundingCurrency:   string(funding.Currency),
		FundingUSD:        funding.Amount,
		ConversionRate:    funding.Rate,
		RateSource:        string(funding.RateSource),
		NormalizedFunding: value.NormalizedFunding,
		RawROI:            value.Raw,
		ROIScore:          value.Score,
		CalculatedAt:      s.clock.Now(),
	}
	if err := s.repo.InsertROIRecord(ctx, rec); err != nil {
		return nil, err
	}

	return &Result{Record: rec, Breakdown: breakdown, Funding: funding, ROI: value}, nil
}

// Summary is the outcome of a recalculation sweep.
type Summary struct {
	Calculated int `json:"calculated"`
	Errors     int `json:"errors"`
}

// RecalculateAllROI appends a fresh record for up to limit projects (all
// when limit <= 0). A failing project is logged and counted; siblings keep
// going.
func (s *Service) RecalculateAllROI(ctx context.Context, limit int) (*Summary, error) {
	ids, err := s.repo.ListProjectIDs(ctx, limit)
	if err != nil {
		return nil, err
	}

	var calculated, failed atomic.Int32

	pool := pond.NewPool(s.opts.Concurrency, pond.WithQueueSize(len(ids)+1))
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, id := range ids {
		id := id
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				failed.Add(1)
				return
			}
			res, err := s.CalculateProjectROI(groupCtx, id)
			switch {
			case err != nil:
				failed.Add(1)
				s.logger.Error("ROI calculation failed", "project_id", id, "error", err)
			case res == nil:
				failed.Add(1)
				s.logger.Warn("Project disappeared during ROI sweep", "project_id", id)
			default:
				calculated.Add(1)
			}
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		s.logger.Warn("ROI sweep finished with errors", "error", err)
	}

	summary := &Summary{Calculated: int(calculated.Load()), Errors: int(failed.Load())}
	if s.metrics != nil {
		s.metrics.RecordBatch("roi", summary.Calculated, summary.Errors)
	}
	s.logger.Info("ROI sweep complete", "calculated", summary.Calculated, "errors", summary.Errors)
	return summary, nil
}

// Batch identifies one percentile pass.
type Batch struct {
	ID     string `json:"batch_id"`
	Ranked int    `json:"ranked"`
}

// CalculateCategoryPercentiles ranks the latest record of every project on
// the uncapped ROI ratio and stamps the percentiles onto those records with
// a shared batch id. Records from different batches are not comparable.
func (s *Service) CalculateCategoryPercentiles(ctx context.Context) (*Batch, error) {
	latest, err := s.repo.LatestROIRecords(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]analysis.RankInput, 0, len(latest))
	for _, l := range latest {
		category := l.Category
		if category == "" {
			category = UncategorizedGroup
		}
		items = append(items, analysis.RankInput{ID: l.Record.ID, Category: category, Score: l.Record.RawROI})
	}
	ranked := analysis.RankPercentiles(items, s.opts.Ties)

	batch := &Batch{ID: database.NewID(), Ranked: len(ranked)}
	at := s.clock.Now()
	err = s.repo.WithTx(ctx, func(tx *database.Repository) error {
		return tx.UpdatePercentiles(ctx, batch.ID, at, ranked)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store percentiles: %w", err)
	}

	s.logger.Info("Percentiles updated", "batch_id", batch.ID, "ranked", batch.Ranked, "ties", s.opts.Ties)
	return batch, nil
}

// Current returns the newest record of a project.
func (s *Service) Current(ctx context.Context, projectID string) (*database.ROIRecord, error) {
	return s.repo.LatestROIRecord(ctx, projectID)
}

// History returns every record of a project, newest first.
func (s *Service) History(ctx context.Context, projectID string, limit int) ([]database.ROIRecord, error) {
	return s.repo.ListROIHistory(ctx, projectID, limit)
}
