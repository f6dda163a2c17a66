package accountability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ZanzyTHEbar/fundscope/internal/clock"
	"github.com/ZanzyTHEbar/fundscope/internal/currency"
	"github.com/ZanzyTHEbar/fundscope/internal/database"
	apperrors "github.com/ZanzyTHEbar/fundscope/internal/errors"
	"github.com/ZanzyTHEbar/fundscope/internal/monitoring"
	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
)

// Options tunes recalculation.
type Options struct {
	// AutoPublish moves recalculated scores straight to published unless
	// they are disputed.
	AutoPublish bool
	Concurrency int
}

// Service recalculates and stores accountability scores.
type Service struct {
	repo       *database.Repository
	normalizer *currency.Normalizer
	clock      clock.Clock
	opts       Options
	locks      *xsync.Map[string, *sync.Mutex]
	metrics    *monitoring.Metrics
	logger     *slog.Logger
}

// NewService creates a new accountability service. metrics and logger may
// be nil.
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
	return &Service{
		repo:       repo,
		normalizer: normalizer,
		clock:      clk,
		opts:       opts,
		locks:      xsync.NewMap[string, *sync.Mutex](),
		metrics:    metrics,
		logger:     logger.With("component", "accountability"),
	}
}

func (s *Service) lockFor(personID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(personID, &sync.Mutex{})
	return mu
}

// Records converts stored projects into scorer input, normalizing money to
// the comparison currency. Awarded is the requested amount of a funded
// project.
func Records(projects []database.Project, n *currency.Normalizer) []ProjectRecord {
	out := make([]ProjectRecord, 0, len(projects))
	for _, p := range projects {
		rec := ProjectRecord{
			Funded:      p.Funded,
			Completed:   p.Status == database.ProjectCompleted,
			ReviewCount: p.ReviewCount,
			MeanRating:  p.MeanRating,
		}
		if p.Funded {
			cur := currency.Currency(p.Currency)
			rec.AwardedUSD = n.Normalize(p.AmountRequested, p.FundNumber, cur).Amount
			rec.ReceivedUSD = n.Normalize(p.AmountReceived, p.FundNumber, cur).Amount
		}
		out = append(out, rec)
	}
	return out
}

// RecalculatePerson rescores one person and upserts the single current
// score row. Writes for the same person are serialized. A disputed score
// keeps its state; only its numbers change.
func (s *Service) RecalculatePerson(ctx context.Context, personID string) (*database.AccountabilityScore, error) {
	mu := s.lockFor(personID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.repo.GetPerson(ctx, personID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("person", personID)
		}
		return nil, fmt.Errorf("failed to load person: %w", err)
	}

	projects, err := s.repo.ListProjectsForPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	result := Score(Records(projects, s.normalizer))

	state := database.StatePreview
	existing, err := s.repo.GetAccountabilityScore(ctx, personID)
	switch {
	case err == nil:
		state = existing.State
	case !errors.Is(err, database.ErrNotFound):
		return nil, fmt.Errorf("failed to load current score: %w", err)
	}
	if s.opts.AutoPublish && state != database.StateDisputed {
		state = database.StatePublished
	}

	breakdown, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode breakdown: %w", err)
	}

	score := &database.AccountabilityScore{
		PersonID:           personID,
		CompletionScore:    result.Completion.Score,
		DeliveryScore:      result.Delivery.Score,
		CommunityScore:     result.Community.Score,
		EfficiencyScore:    result.Efficiency.Score,
		CommunicationScore: result.Communication.Score,
		Breakdown:          string(breakdown),
		OverallScore:       result.Overall,
		Badge:              string(result.Badge),
		State:              state,
		ScoringVersion:     result.Version,
		CalculatedAt:       s.clock.Now(),
	}
	if existing != nil {
		score.ID = existing.ID
	}
	if err := s.repo.UpsertAccountabilityScore(ctx, score); err != nil {
		return nil, err
	}

	s.logger.Debug("Accountability score updated",
		"person_id", personID,
		"overall", score.OverallScore,
		"badge", score.Badge,
		"state", score.State)
	return score, nil
}

// PersonScore is one entry of a recalculation sweep.
type PersonScore struct {
	PersonID     string  `json:"person_id"`
	OverallScore float64 `json:"overall_score"`
}

// BatchResult summarizes a sweep. Per-person failures are counted, never
// returned.
type BatchResult struct {
	Scores     []PersonScore `json:"scores"`
	Calculated int           `json:"calculated"`
	Errors     int           `json:"errors"`
}

// RecalculateAll rescores up to limit people (all when limit <= 0) with
// bounded concurrency.
func (s *Service) RecalculateAll(ctx context.Context, limit int) (*BatchResult, error) {
	ids, err := s.repo.ListPersonIDs(ctx, limit)
	if err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		scores   = make([]PersonScore, 0, len(ids))
		failures atomic.Int32
	)

	pool := pond.NewPool(s.opts.Concurrency, pond.WithQueueSize(len(ids)+1))
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, id := range ids {
		id := id
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				failures.Add(1)
				return
			}
			score, err := s.RecalculatePerson(groupCtx, id)
			if err != nil {
				failures.Add(1)
				s.logger.Error("Accountability recalculation failed", "person_id", id, "error", err)
				return
			}
			mu.Lock()
			scores = append(scores, PersonScore{PersonID: id, OverallScore: score.OverallScore})
			mu.Unlock()
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		s.logger.Warn("Accountability sweep finished with errors", "error", err)
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].PersonID < scores[j].PersonID })
	result := &BatchResult{Scores: scores, Calculated: len(scores), Errors: int(failures.Load())}
	if s.metrics != nil {
		s.metrics.RecordBatch("accountability", result.Calculated, result.Errors)
	}
	s.logger.Info("Accountability sweep complete", "calculated", result.Calculated, "errors", result.Errors)
	return result, nil
}

// Visible returns the public view of a person's score. Disputed scores
// are hidden and read as not found.
func (s *Service) Visible(ctx context.Context, personID string) (*database.AccountabilityScore, error) {
	score, err := s.repo.GetAccountabilityScore(ctx, personID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("accountability score", personID)
		}
		return nil, err
	}
	if score.State == database.StateDisputed {
		return nil, apperrors.NewNotFoundError("accountability score", personID)
	}
	return score, nil
}

// Published lists published scores, highest first. limit <= 0 lists all.
// Preview and disputed scores are never included.
func (s *Service) Published(ctx context.Context, limit int) ([]database.AccountabilityScore, error) {
	scores, err := s.repo.ListAccountabilityScores(ctx, database.StatePublished, limit)
	if err != nil {
		return nil, err
	}
	if scores == nil {
		scores = []database.AccountabilityScore{}
	}
	return scores, nil
}
