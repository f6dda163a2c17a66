// Package ingest loads the proposal feed into funds, projects, people and
// milestones.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ZanzyTHEbar/fundscope/internal/adapters"
	"github.com/ZanzyTHEbar/fundscope/internal/analysis"
	"github.com/ZanzyTHEbar/fundscope/internal/clock"
	"github.com/ZanzyTHEbar/fundscope/internal/currency"
	"github.com/ZanzyTHEbar/fundscope/internal/database"
	apperrors "github.com/ZanzyTHEbar/fundscope/internal/errors"
	"github.com/ZanzyTHEbar/fundscope/internal/monitoring"
)

// Feed is the proposal data provider.
type Feed interface {
	ListProposals(ctx context.Context, page int) (*adapters.ProposalPage, error)
	GetProposal(ctx context.Context, externalID string) (*adapters.Proposal, error)
}

// Ingester writes feed proposals into the store.
type Ingester struct {
	repo       *database.Repository
	feed       Feed
	normalizer *currency.Normalizer
	clock      clock.Clock
	metrics    *monitoring.Metrics
	logger     *slog.Logger
}

// NewIngester creates an ingester. clk, metrics and logger may be nil.
func NewIngester(repo *database.Repository, feed Feed, normalizer *currency.Normalizer, clk clock.Clock, metrics *monitoring.Metrics, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = monitoring.Discard()
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Ingester{
		repo:       repo,
		feed:       feed,
		normalizer: normalizer,
		clock:      clk,
		metrics:    metrics,
		logger:     logger.With("component", "ingest"),
	}
}

// Summary is the outcome of a feed sync.
type Summary struct {
	Pages     int `json:"pages"`
	Proposals int `json:"proposals"`
	Errors    int `json:"errors"`
}

// SyncAll walks the feed from the first page. maxPages <= 0 walks every
// page. A proposal that fails to apply is logged and counted; a page that
// fails to load ends the walk with an error.
func (i *Ingester) SyncAll(ctx context.Context, maxPages int) (*Summary, error) {
	summary := &Summary{}
	for page := 1; maxPages <= 0 || page <= maxPages; page++ {
		res, err := i.feed.ListProposals(ctx, page)
		if err != nil {
			i.record(summary)
			return summary, fmt.Errorf("failed to load proposal page %d: %w", page, err)
		}
		summary.Pages++

		for idx := range res.Proposals {
			p := &res.Proposals[idx]
			if _, err := i.Apply(ctx, p); err != nil {
				summary.Errors++
				i.logger.Error("Proposal ingest failed", "external_id", p.ExternalID, "error", err)
				continue
			}
			summary.Proposals++
		}

		if len(res.Proposals) == 0 || res.Page >= res.LastPage {
			break
		}
	}
	i.record(summary)
	i.logger.Info("Proposal sync complete",
		"pages", summary.Pages,
		"proposals", summary.Proposals,
		"errors", summary.Errors,
	)
	return summary, nil
}

func (i *Ingester) record(s *Summary) {
	if i.metrics != nil {
		i.metrics.RecordBatch("ingest", s.Proposals, s.Errors)
	}
}

// SyncProposal refreshes a single proposal by its feed id and returns the
// local project id.
func (i *Ingester) SyncProposal(ctx context.Context, externalID string) (string, error) {
	p, err := i.feed.GetProposal(ctx, externalID)
	if err != nil {
		return "", err
	}
	return i.Apply(ctx, p)
}

// Apply upserts one proposal with its fund, team and milestones in a single
// transaction. Stored signals are left as they are, apart from the review
// aggregate which the feed owns.
func (i *Ingester) Apply(ctx context.Context, p *adapters.Proposal) (string, error) {
	if strings.TrimSpace(p.ExternalID) == "" {
		return "", apperrors.NewValidationError("proposal id is required", "id")
	}
	if p.Fund.Number <= 0 {
		return "", apperrors.NewValidationError("proposal fund number must be positive", "fund.number")
	}

	var projectID string
	err := i.repo.WithTx(ctx, func(tx *database.Repository) error {
		fund := &database.Fund{
			Number:   p.Fund.Number,
			Name:     p.Fund.Name,
			Currency: string(i.normalizer.Native(p.Fund.Number, currency.Currency(p.Fund.Currency))),
		}
		if fund.Name == "" {
			fund.Name = fmt.Sprintf("Fund %d", p.Fund.Number)
		}
		if err := tx.UpsertFund(ctx, fund); err != nil {
			return err
		}

		project := &database.Project{
			ExternalID:      p.ExternalID,
			FundID:          fund.ID,
			Title:           p.Title,
			Category:        p.Category,
			Status:          projectStatus(p.Status, p.Funded),
			Funded:          p.Funded,
			AmountRequested: p.AmountRequested,
			AmountReceived:  p.AmountReceived,
			Currency:        i.projectCurrency(p),
			RepositoryURL:   p.RepositoryURL,
			WalletAddress:   p.WalletAddress,
		}
		if err := tx.UpsertProject(ctx, project, i.clock.Now()); err != nil {
			return err
		}
		projectID = project.ID

		community := analysis.CommunitySignal{ReviewCount: p.ReviewCount, MeanRating: p.MeanRating}
		if err := tx.UpdateCommunitySignal(ctx, project.ID, community); err != nil {
			return err
		}

		milestones := make([]database.Milestone, 0, len(p.Milestones))
		for _, m := range p.Milestones {
			milestones = append(milestones, database.Milestone{
				Title:      m.Title,
				Status:     string(milestoneStatus(m.Status)),
				DueDate:    m.DueDate,
				ApprovedAt: m.ApprovedAt,
			})
		}
		if err := tx.ReplaceMilestones(ctx, project.ID, milestones); err != nil {
			return err
		}

		for _, member := range p.Team {
			if member.ExternalID == "" {
				continue
			}
			person := &database.Person{ExternalID: member.ExternalID, Name: member.Name}
			if err := tx.UpsertPerson(ctx, person); err != nil {
				return err
			}
			if err := tx.LinkPerson(ctx, project.ID, person.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return projectID, nil
}

// projectCurrency keeps a known currency override. Anything else is
// dropped with a warning so the fund rule applies.
func (i *Ingester) projectCurrency(p *adapters.Proposal) string {
	if strings.TrimSpace(p.Currency) == "" {
		return ""
	}
	c, ok := currency.ParseCurrency(p.Currency)
	if !ok {
		i.logger.Warn("Ignoring unknown proposal currency", "external_id", p.ExternalID, "currency", p.Currency)
		return ""
	}
	return string(c)
}

func projectStatus(raw string, funded bool) string {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), " ", "_")) {
	case "completed", "complete", "closed":
		return database.ProjectCompleted
	case "in_progress", "active", "funded", "ongoing":
		return database.ProjectInProgress
	case "not_funded", "unfunded", "rejected":
		return database.ProjectNotFunded
	}
	if funded {
		return database.ProjectInProgress
	}
	return database.ProjectProposed
}

func milestoneStatus(raw string) analysis.MilestoneStatus {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), " ", "_")) {
	case "completed", "complete", "approved", "done":
		return analysis.MilestoneCompleted
	case "in_progress", "active", "submitted":
		return analysis.MilestoneInProgress
	case "overdue", "late":
		return analysis.MilestoneOverdue
	default:
		return analysis.MilestonePending
	}
}
