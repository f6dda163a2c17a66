package analysis

import "time"

// MilestoneStatus is the delivery state reported for a milestone.
type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in_progress"
	MilestoneCompleted  MilestoneStatus = "completed"
	MilestoneOverdue    MilestoneStatus = "overdue"
)

// Milestone is the subset of milestone data deliverable scoring reads.
type Milestone struct {
	Status     MilestoneStatus `json:"status"`
	DueDate    *time.Time      `json:"due_date,omitempty"`
	ApprovedAt *time.Time      `json:"approved_at,omitempty"`
}

// RepositorySignal is the code-hosting signal for a project.
type RepositorySignal struct {
	ActivityScore float64 `json:"activity_score"`
	Stars         int     `json:"stars"`
	Forks         int     `json:"forks"`
	Contributors  int     `json:"contributors"`
}

// OnChainSignal aggregates transactions into the project wallet.
type OnChainSignal struct {
	TransactionCount     int     `json:"transaction_count"`
	UniqueCounterparties int     `json:"unique_counterparties"`
	TotalReceived        float64 `json:"total_received"`
}

// CommunitySignal aggregates community reviews on a 1-5 scale.
type CommunitySignal struct {
	ReviewCount int     `json:"review_count"`
	MeanRating  float64 `json:"mean_rating"`
}

// Signals is the raw signal state of one project. A nil pointer means the
// collector for that source has not produced data.
type Signals struct {
	Repository *RepositorySignal `json:"repository,omitempty"`
	Milestones []Milestone       `json:"milestones,omitempty"`
	OnChain    *OnChainSignal    `json:"on_chain,omitempty"`
	Community  *CommunitySignal  `json:"community,omitempty"`
}

// Component is one weighted sub-score.
type Component struct {
	Score    float64 `json:"score"`
	Weight   float64 `json:"weight"`
	Weighted float64 `json:"weighted"`
}

func newComponent(score, weight float64) Component {
	score = clamp100(score)
	return Component{Score: score, Weight: weight, Weighted: score * weight}
}

// OutcomeBreakdown is the result of scoring a project's signals.
type OutcomeBreakdown struct {
	Repository   Component    `json:"repository"`
	Deliverables Component    `json:"deliverables"`
	OnChain      Component    `json:"on_chain"`
	Community    Component    `json:"community"`
	OutcomeScore float64      `json:"outcome_score"`
	Badge        ProjectBadge `json:"badge"`
}
