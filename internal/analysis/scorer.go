package analysis

// OutcomeWeights are the fixed component weights of the outcome score.
type OutcomeWeights struct {
	Repository   float64
	Deliverables float64
	OnChain      float64
	Community    float64
}

// Sum must be 1.
func (w OutcomeWeights) Sum() float64 {
	return w.Repository + w.Deliverables + w.OnChain + w.Community
}

// DefaultOutcomeWeights is the only weight set the scorer uses.
var DefaultOutcomeWeights = OutcomeWeights{
	Repository:   0.30,
	Deliverables: 0.30,
	OnChain:      0.25,
	Community:    0.15,
}

const (
	repoBaseWeight      = 0.7
	repoStarBonusCap    = 10
	repoForkBonusCap    = 10
	repoContribBonusCap = 10

	deliverableCompletionWeight = 70
	deliverableOnTimeWeight     = 30

	chainTxCap     = 40
	chainUniqueCap = 30
	chainVolumeCap = 30
	// ADA received per volume point
	chainVolumeUnit = 1000

	communityBaseWeight = 0.8
	communityBonusCap   = 20
)

// RepositoryScore is a base activity measure plus capped popularity, fork
// and contributor bonuses. No signal scores 0.
func RepositoryScore(s *RepositorySignal) float64 {
	if s == nil {
		return 0
	}
	base := clamp100(s.ActivityScore) * repoBaseWeight
	stars := capped(float64(s.Stars)/50, repoStarBonusCap)
	forks := capped(float64(s.Forks)/10, repoForkBonusCap)
	contributors := capped(float64(s.Contributors)*2, repoContribBonusCap)
	return clamp100(base + stars + forks + contributors)
}

// DeliverableScore is 70% completion rate plus 30% on-time rate. A milestone
// counts as complete when its status is completed or its proof of achievement
// was approved. Timeliness is measured only over milestones that carry both a
// due date and an approval; with none measurable the on-time rate is 1.
func DeliverableScore(milestones []Milestone) float64 {
	if len(milestones) == 0 {
		return 0
	}

	var completed, measurable, onTime int
	for _, m := range milestones {
		if m.Status == MilestoneCompleted || m.ApprovedAt != nil {
			completed++
		}
		if m.DueDate != nil && m.ApprovedAt != nil {
			measurable++
			if !m.ApprovedAt.After(*m.DueDate) {
				onTime++
			}
		}
	}

	completionRate := float64(completed) / float64(len(milestones))
	onTimeRate := 1.0
	if measurable > 0 {
		onTimeRate = float64(onTime) / float64(measurable)
	}

	return clamp100(completionRate*deliverableCompletionWeight + onTimeRate*deliverableOnTimeWeight)
}

// OnChainScore sums independently capped transaction-count, counterparty and
// volume terms. No signal scores 0.
func OnChainScore(s *OnChainSignal) float64 {
	if s == nil {
		return 0
	}
	txs := capped(float64(s.TransactionCount)*0.5, chainTxCap)
	unique := capped(float64(s.UniqueCounterparties), chainUniqueCap)
	volume := capped(s.TotalReceived/chainVolumeUnit, chainVolumeCap)
	return clamp100(txs + unique + volume)
}

// RatingToScore rescales a 1-5 rating linearly onto 0-100.
func RatingToScore(mean float64) float64 {
	return clamp100((clip(mean, 1, 5) - 1) / 4 * 100)
}

// CommunityScore weighs the rescaled mean rating 80/20 against a review
// count bonus capped at 20. No reviews scores 0.
func CommunityScore(s *CommunitySignal) float64 {
	if s == nil || s.ReviewCount <= 0 {
		return 0
	}
	bonus := capped(float64(s.ReviewCount), communityBonusCap)
	return clamp100(RatingToScore(s.MeanRating)*communityBaseWeight + bonus)
}

// CombineOutcome applies w to already computed component scores.
func CombineOutcome(repository, deliverables, onChain, community float64, w OutcomeWeights) float64 {
	return clamp100(clamp100(repository)*w.Repository +
		clamp100(deliverables)*w.Deliverables +
		clamp100(onChain)*w.OnChain +
		clamp100(community)*w.Community)
}

// ScoreOutcome scores current signal state. It has no side effects and
// degrades every missing signal to 0 instead of failing.
func ScoreOutcome(s Signals) OutcomeBreakdown {
	w := DefaultOutcomeWeights
	b := OutcomeBreakdown{
		Repository:   newComponent(RepositoryScore(s.Repository), w.Repository),
		Deliverables: newComponent(DeliverableScore(s.Milestones), w.Deliverables),
		OnChain:      newComponent(OnChainScore(s.OnChain), w.OnChain),
		Community:    newComponent(CommunityScore(s.Community), w.Community),
	}
	b.OutcomeScore = CombineOutcome(b.Repository.Score, b.Deliverables.Score, b.OnChain.Score, b.Community.Score, w)
	b.Badge = ProjectBadgeFor(b.OutcomeScore)
	return b
}
