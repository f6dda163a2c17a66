package adapters

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ZanzyTHEbar/fundscope/internal/clock"
	apperrors "github.com/ZanzyTHEbar/fundscope/internal/errors"
	"github.com/ZanzyTHEbar/fundscope/internal/monitoring"
	"github.com/ZanzyTHEbar/fundscope/internal/resilience"
)

const proposalPageSize = 50

// ProposalFund is the funding period a proposal was submitted to.
type ProposalFund struct {
	ExternalID string `json:"id"`
	Number     int    `json:"number"`
	Name       string `json:"name"`
	Currency   string `json:"currency,omitempty"`
}

// ProposalMember is a team member listed on a proposal.
type ProposalMember struct {
	ExternalID string `json:"id"`
	Name       string `json:"name"`
}

// ProposalMilestone is a milestone as reported by the feed.
type ProposalMilestone struct {
	Title      string     `json:"title"`
	Status     string     `json:"status"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
}

// Proposal is one entry of the proposal feed.
type Proposal struct {
	ExternalID      string              `json:"id"`
	Title           string              `json:"title"`
	Category        string              `json:"category"`
	Status          string              `json:"status"`
	Funded          bool                `json:"funded"`
	AmountRequested float64             `json:"amount_requested"`
	AmountReceived  float64             `json:"amount_received"`
	Currency        string              `json:"currency,omitempty"`
	RepositoryURL   string              `json:"repository_url,omitempty"`
	WalletAddress   string              `json:"wallet_address,omitempty"`
	ReviewCount     int                 `json:"review_count"`
	MeanRating      float64             `json:"mean_rating"`
	Fund            ProposalFund        `json:"fund"`
	Team            []ProposalMember    `json:"team"`
	Milestones      []ProposalMilestone `json:"milestones"`
}

// ProposalPage is one page of the proposal listing.
type ProposalPage struct {
	Proposals []Proposal
	Page      int
	LastPage  int
}

// ProposalConfig configures the proposal feed adapter.
type ProposalConfig struct {
	BaseURL           string
	RequestsPerSecond float64
	RetryMax          int
}

// ProposalAdapter reads the funding program's proposal feed.
type ProposalAdapter struct {
	client *Client
	logger *slog.Logger
}

// NewProposalAdapter creates a proposal feed adapter.
func NewProposalAdapter(cfg ProposalConfig, clk clock.Clock, metrics *monitoring.Metrics, logger *slog.Logger) *ProposalAdapter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if logger == nil {
		logger = monitoring.Discard()
	}
	client := NewClient(ClientConfig{
		Name:              "proposals",
		BaseURL:           cfg.BaseURL,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             1,
		RetryMax:          cfg.RetryMax,
		Breaker:           resilience.CircuitBreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute},
	}, clk, metrics, logger)

	return &ProposalAdapter{client: client, logger: logger.With("component", "proposal_adapter")}
}

// ListProposals fetches one page of proposals. Pages start at 1.
func (a *ProposalAdapter) ListProposals(ctx context.Context, page int) (*ProposalPage, error) {
	if page < 1 {
		page = 1
	}
	q := url.Values{
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(proposalPageSize)},
	}
	_, body, err := a.client.Get(ctx, "proposals", q)
	if err != nil {
		return nil, err
	}

	doc := gjson.ParseBytes(body)
	out := &ProposalPage{
		Page:     int(doc.Get("meta.current_page").Int()),
		LastPage: int(doc.Get("meta.last_page").Int()),
	}
	if out.Page == 0 {
		out.Page = page
	}
	if out.LastPage == 0 {
		out.LastPage = out.Page
	}
	for _, item := range doc.Get("data").Array() {
		out.Proposals = append(out.Proposals, parseProposal(item))
	}
	return out, nil
}

// GetProposal fetches one proposal by its feed id.
func (a *ProposalAdapter) GetProposal(ctx context.Context, externalID string) (*Proposal, error) {
	if externalID == "" {
		return nil, apperrors.NewValidationError("proposal id is required", "external_id")
	}
	_, body, err := a.client.Get(ctx, "proposals/"+url.PathEscape(externalID), nil)
	if err != nil {
		return nil, err
	}
	data := gjson.GetBytes(body, "data")
	if !data.Exists() {
		return nil, apperrors.NewNotFoundError("proposal", externalID)
	}
	p := parseProposal(data)
	return &p, nil
}

func parseProposal(item gjson.Result) Proposal {
	p := Proposal{
		ExternalID:      item.Get("id").String(),
		Title:           item.Get("title").Str,
		Category:        item.Get("category.name").Str,
		Status:          item.Get("status").Str,
		Funded:          item.Get("funded").Bool(),
		AmountRequested: item.Get("amount_requested").Float(),
		AmountReceived:  item.Get("amount_received").Float(),
		Currency:        item.Get("currency").Str,
		RepositoryURL:   item.Get("repository_url").Str,
		WalletAddress:   item.Get("wallet_address").Str,
		ReviewCount:     int(item.Get("reviews.count").Int()),
		MeanRating:      item.Get("reviews.mean_rating").Float(),
		Fund: ProposalFund{
			ExternalID: item.Get("fund.id").String(),
			Number:     int(item.Get("fund.number").Int()),
			Name:       item.Get("fund.name").Str,
			Currency:   item.Get("fund.currency").Str,
		},
	}
	for _, m := range item.Get("team").Array() {
		p.Team = append(p.Team, ProposalMember{ExternalID: m.Get("id").String(), Name: m.Get("name").Str})
	}
	for _, m := range item.Get("milestones").Array() {
		p.Milestones = append(p.Milestones, ProposalMilestone{
			Title:      m.Get("title").Str,
			Status:     m.Get("status").Str,
			DueDate:    parseTime(m.Get("due_date").Str),
			ApprovedAt: parseTime(m.Get("approved_at").Str),
		})
	}
	return p
}

func parseTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
