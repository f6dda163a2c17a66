package database

import (
	"time"

	"github.com/ZanzyTHEbar/fundscope/internal/analysis"
	"github.com/google/uuid"
)

// Fund is one funding period. Rollup columns are derived by the rollup sweep.
type Fund struct {
	ID               string     `json:"id" db:"id"`
	Number           int        `json:"number" db:"number"`
	Name             string     `json:"name" db:"name"`
	Currency         string     `json:"currency" db:"currency"`
	TotalAwarded     float64    `json:"total_awarded" db:"total_awarded"`
	TotalDistributed float64    `json:"total_distributed" db:"total_distributed"`
	ProposalCount    int        `json:"proposal_count" db:"proposal_count"`
	FundedCount      int        `json:"funded_count" db:"funded_count"`
	CompletedCount   int        `json:"completed_count" db:"completed_count"`
	RollupAt         *time.Time `json:"rollup_at,omitempty" db:"rollup_at"`
}

// Project statuses as reported by the proposal feed.
const (
	ProjectProposed   = "proposed"
	ProjectInProgress = "in_progress"
	ProjectCompleted  = "completed"
	ProjectNotFunded  = "not_funded"
)

// Project is a funded or proposed project. Currency is empty when the
// project settles in its fund's currency.
type Project struct {
	ID              string  `json:"id" db:"id"`
	ExternalID      string  `json:"external_id" db:"external_id"`
	FundID          string  `json:"fund_id" db:"fund_id"`
	FundNumber      int     `json:"fund_number" db:"-"`
	Title           string  `json:"title" db:"title"`
	Category        string  `json:"category" db:"category"`
	Status          string  `json:"status" db:"status"`
	Funded          bool    `json:"funded" db:"funded"`
	AmountRequested float64 `json:"amount_requested" db:"amount_requested"`
	AmountReceived  float64 `json:"amount_received" db:"amount_received"`
	Currency        string  `json:"currency,omitempty" db:"currency"`
	RepositoryURL   string  `json:"repository_url,omitempty" db:"repository_url"`
	WalletAddress   string  `json:"wallet_address,omitempty" db:"wallet_address"`

	Repository    *analysis.RepositorySignal `json:"repository,omitempty" db:"-"`
	RepoSyncedAt  *time.Time                 `json:"repo_synced_at,omitempty" db:"repo_synced_at"`
	OnChain       *analysis.OnChainSignal    `json:"on_chain,omitempty" db:"-"`
	ChainSyncedAt *time.Time                 `json:"chain_synced_at,omitempty" db:"chain_synced_at"`
	ReviewCount   int                        `json:"review_count" db:"review_count"`
	MeanRating    float64                    `json:"mean_rating" db:"mean_rating"`
	CreatedAt     time.Time                  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time                  `json:"updated_at" db:"updated_at"`
}

// Signals assembles the scorer input from stored signal columns.
func (p *Project) Signals(milestones []Milestone) analysis.Signals {
	s := analysis.Signals{
		Repository: p.Repository,
		OnChain:    p.OnChain,
	}
	if p.ReviewCount > 0 {
		s.Community = &analysis.CommunitySignal{ReviewCount: p.ReviewCount, MeanRating: p.MeanRating}
	}
	for _, m := range milestones {
		s.Milestones = append(s.Milestones, analysis.Milestone{
			Status:     analysis.MilestoneStatus(m.Status),
			DueDate:    m.DueDate,
			ApprovedAt: m.ApprovedAt,
		})
	}
	return s
}

// Milestone belongs to one project.
type Milestone struct {
	ID         string     `json:"id" db:"id"`
	ProjectID  string     `json:"project_id" db:"project_id"`
	Title      string     `json:"title" db:"title"`
	Status     string     `json:"status" db:"status"`
	DueDate    *time.Time `json:"due_date,omitempty" db:"due_date"`
	ApprovedAt *time.Time `json:"approved_at,omitempty" db:"approved_at"`
}

// Person aggregates are normalized to USD by the rollup sweep.
type Person struct {
	ID                string     `json:"id" db:"id"`
	ExternalID        string     `json:"external_id" db:"external_id"`
	Name              string     `json:"name" db:"name"`
	FundedCount       int        `json:"funded_count" db:"funded_count"`
	CompletedCount    int        `json:"completed_count" db:"completed_count"`
	TotalRequestedUSD float64    `json:"total_requested_usd" db:"total_requested_usd"`
	TotalAwardedUSD   float64    `json:"total_awarded_usd" db:"total_awarded_usd"`
	TotalReceivedUSD  float64    `json:"total_received_usd" db:"total_received_usd"`
	RollupAt          *time.Time `json:"rollup_at,omitempty" db:"rollup_at"`
}

// ROIRecord is an immutable calculation snapshot. Only the percentile
// columns are written after insert, by the ranking pass.
type ROIRecord struct {
	ID                 string     `json:"id" db:"id"`
	ProjectID          string     `json:"project_id" db:"project_id"`
	RepositoryScore    float64    `json:"repository_score" db:"repository_score"`
	RepositoryWeight   float64    `json:"repository_weight" db:"repository_weight"`
	DeliverableScore   float64    `json:"deliverable_score" db:"deliverable_score"`
	DeliverableWeight  float64    `json:"deliverable_weight" db:"deliverable_weight"`
	OnChainScore       float64    `json:"on_chain_score" db:"on_chain_score"`
	OnChainWeight      float64    `json:"on_chain_weight" db:"on_chain_weight"`
	CommunityScore     float64    `json:"community_score" db:"community_score"`
	CommunityWeight    float64    `json:"community_weight" db:"community_weight"`
	OutcomeScore       float64    `json:"outcome_score" db:"outcome_score"`
	Badge              string     `json:"badge" db:"badge"`
	FundingAmount      float64    `json:"funding_amount" db:"funding_amount"`
	FundingCurrency    string     `json:"funding_currency" db:"funding_currency"`
	FundingUSD         float64    `json:"funding_usd" db:"funding_usd"`
	ConversionRate     float64    `json:"conversion_rate" db:"conversion_rate"`
	RateSource         string     `json:"rate_source" db:"rate_source"`
	NormalizedFunding  float64    `json:"normalized_funding" db:"normalized_funding"`
	RawROI             float64    `json:"raw_roi" db:"raw_roi"`
	ROIScore           float64    `json:"roi_score" db:"roi_score"`
	CategoryPercentile *float64   `json:"category_percentile,omitempty" db:"category_percentile"`
	OverallPercentile  *float64   `json:"overall_percentile,omitempty" db:"overall_percentile"`
	PercentileBatchID  *string    `json:"percentile_batch_id,omitempty" db:"percentile_batch_id"`
	PercentileAt       *time.Time `json:"percentile_at,omitempty" db:"percentile_at"`
	CalculatedAt       time.Time  `json:"calculated_at" db:"calculated_at"`
}

// LatestROI is a project's current ROI record with its ranking category.
type LatestROI struct {
	Record   ROIRecord
	Category string
}

// Accountability score states.
const (
	StatePreview   = "preview"
	StateDisputed  = "disputed"
	StatePublished = "published"
)

// AccountabilityScore is the single current score of a person.
type AccountabilityScore struct {
	ID                 string    `json:"id" db:"id"`
	PersonID           string    `json:"person_id" db:"person_id"`
	CompletionScore    float64   `json:"completion_score" db:"completion_score"`
	DeliveryScore      float64   `json:"delivery_score" db:"delivery_score"`
	CommunityScore     float64   `json:"community_score" db:"community_score"`
	EfficiencyScore    float64   `json:"efficiency_score" db:"efficiency_score"`
	CommunicationScore float64   `json:"communication_score" db:"communication_score"`
	Breakdown          string    `json:"breakdown" db:"breakdown"`
	OverallScore       float64   `json:"overall_score" db:"overall_score"`
	Badge              string    `json:"badge" db:"badge"`
	State              string    `json:"state" db:"state"`
	ScoringVersion     string    `json:"scoring_version" db:"scoring_version"`
	CalculatedAt       time.Time `json:"calculated_at" db:"calculated_at"`
}

// Dispute statuses.
const (
	DisputePending  = "pending"
	DisputeApproved = "approved"
	DisputeRejected = "rejected"
)

// Dispute is a challenge against an accountability score.
type Dispute struct {
	ID         string     `json:"id" db:"id"`
	ScoreID    string     `json:"score_id" db:"score_id"`
	FiledBy    string     `json:"filed_by" db:"filed_by"`
	Reason     string     `json:"reason" db:"reason"`
	Evidence   string     `json:"evidence,omitempty" db:"evidence"`
	Status     string     `json:"status" db:"status"`
	ResolvedBy string     `json:"resolved_by,omitempty" db:"resolved_by"`
	Resolution string     `json:"resolution,omitempty" db:"resolution"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// AuditEntry is an append-only moderation record.
type AuditEntry struct {
	ID          string    `json:"id" db:"id"`
	Action      string    `json:"action" db:"action"`
	Actor       string    `json:"actor" db:"actor"`
	SubjectType string    `json:"subject_type" db:"subject_type"`
	SubjectID   string    `json:"subject_id" db:"subject_id"`
	Payload     string    `json:"payload" db:"payload"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// NewID generates a record id.
func NewID() string {
	return uuid.New().String()
}
