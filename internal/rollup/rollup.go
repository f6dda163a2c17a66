// Package rollup recomputes the derived aggregates on funds and people.
// The aggregates are never edited by hand; every sweep rewrites them from
// the project rows.
package rollup

import (
	"context"
	"log/slog"
	"time"

	"github.com/ZanzyTHEbar/fundscope/internal/clock"
	"github.com/ZanzyTHEbar/fundscope/internal/currency"
	"github.com/ZanzyTHEbar/fundscope/internal/database"
	"github.com/ZanzyTHEbar/fundscope/internal/monitoring"
)

// Sweeper recomputes fund and person rollups.
type Sweeper struct {
	repo       *database.Repository
	normalizer *currency.Normalizer
	clock      clock.Clock
	metrics    *monitoring.Metrics
	logger     *slog.Logger
}

// NewSweeper creates a rollup sweeper. metrics and logger may be nil.
func NewSweeper(repo *database.Repository, normalizer *currency.Normalizer, clk clock.Clock, metrics *monitoring.Metrics, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = monitoring.Discard()
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Sweeper{repo: repo, normalizer: normalizer, clock: clk, metrics: metrics, logger: logger.With("component", "rollup")}
}

// Summary counts the entities a sweep rewrote.
type Summary struct {
	Funds  int `json:"funds"`
	People int `json:"people"`
	Errors int `json:"errors"`
}

// FundTotals derives a fund's aggregates in the fund's own currency. A
// project holding another currency is converted first.
func FundTotals(f *database.Fund, projects []database.Project, n *currency.Normalizer) {
	target, ok := currency.ParseCurrency(f.Currency)
	if !ok {
		target = n.CurrencyForFund(f.Number)
	}

	f.ProposalCount = len(projects)
	f.FundedCount, f.CompletedCount = 0, 0
	f.TotalAwarded, f.TotalDistributed = 0, 0
	for _, p := range projects {
		if !p.Funded {
			continue
		}
		native := n.Native(f.Number, currency.Currency(p.Currency))
		f.FundedCount++
		f.TotalAwarded += n.Convert(p.AmountRequested, native, target)
		f.TotalDistributed += n.Convert(p.AmountReceived, native, target)
		if p.Status == database.ProjectCompleted {
			f.CompletedCount++
		}
	}
}

// PersonTotals derives a person's aggregates. Projects span funds, so
// every amount goes through the normalizer first.
func PersonTotals(p *database.Person, projects []database.Project, n *currency.Normalizer) {
	p.FundedCount, p.CompletedCount = 0, 0
	p.TotalRequestedUSD, p.TotalAwardedUSD, p.TotalReceivedUSD = 0, 0, 0
	for _, pr := range projects {
		cur := currency.Currency(pr.Currency)
		p.TotalRequestedUSD += n.Normalize(pr.AmountRequested, pr.FundNumber, cur).Amount
		if !pr.Funded {
			continue
		}
		p.FundedCount++
		p.TotalAwardedUSD += n.Normalize(pr.AmountRequested, pr.FundNumber, cur).Amount
		p.TotalReceivedUSD += n.Normalize(pr.AmountReceived, pr.FundNumber, cur).Amount
		if pr.Status == database.ProjectCompleted {
			p.CompletedCount++
		}
	}
}

// Run rewrites every fund rollup and up to limit person rollups (all when
// limit <= 0). Entity failures are logged and counted.
func (s *Sweeper) Run(ctx context.Context, limit int) (*Summary, error) {
	now := s.clock.Now()
	summary := &Summary{}

	funds, err := s.repo.ListFunds(ctx)
	if err != nil {
		return nil, err
	}
	for i := range funds {
		f := &funds[i]
		projects, err := s.repo.ListProjectsForFund(ctx, f.ID)
		if err != nil {
			summary.Errors++
			s.logger.Error("Fund rollup failed", "fund", f.Number, "error", err)
			continue
		}
		FundTotals(f, projects, s.normalizer)
		f.RollupAt = &now
		if err := s.repo.UpdateFundRollup(ctx, f); err != nil {
			summary.Errors++
			s.logger.Error("Fund rollup failed", "fund", f.Number, "error", err)
			continue
		}
		summary.Funds++
	}

	ids, err := s.repo.ListPersonIDs(ctx, limit)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := s.person(ctx, id, now); err != nil {
			summary.Errors++
			s.logger.Error("Person rollup failed", "person_id", id, "error", err)
			continue
		}
		summary.People++
	}

	if s.metrics != nil {
		s.metrics.RecordBatch("rollups", summary.Funds+summary.People, summary.Errors)
	}
	s.logger.Info("Rollup sweep complete", "funds", summary.Funds, "people", summary.People, "errors", summary.Errors)
	return summary, nil
}

func (s *Sweeper) person(ctx context.Context, id string, now time.Time) error {
	p, err := s.repo.GetPerson(ctx, id)
	if err != nil {
		return err
	}
	projects, err := s.repo.ListProjectsForPerson(ctx, id)
	if err != nil {
		return err
	}
	PersonTotals(p, projects, s.normalizer)
	p.RollupAt = &now
	return s.repo.UpdatePersonRollup(ctx, p)
}
