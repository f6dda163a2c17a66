package accountability

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalWeightsSumToOne(t *testing.T) {
	assert.InDelta(t, 1.0, CanonicalWeights.Sum(), 1e-12)
}

func TestBadgeFor(t *testing.T) {
	tests := []struct {
		score float64
		want  Badge
	}{
		{100, BadgeTrusted},
		{80, BadgeTrusted},
		{79.99, BadgeReliable},
		{60, BadgeReliable},
		{59.5, BadgeUnproven},
		{40, BadgeUnproven},
		{39.9, BadgeConcerning},
		{0, BadgeConcerning},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BadgeFor(tt.score), "score %v", tt.score)
	}
}

func TestScore(t *testing.T) {
	projects := []ProjectRecord{
		{Funded: true, Completed: true, AwardedUSD: 10000, ReceivedUSD: 10000, ReviewCount: 3, MeanRating: 5},
		{Funded: true, AwardedUSD: 10000, ReceivedUSD: 5000, ReviewCount: 1, MeanRating: 1},
		{Funded: false, AwardedUSD: 0, ReviewCount: 0},
	}

	r := Score(projects)
	assert.InDelta(t, 50, r.Completion.Score, 1e-9)
	assert.InDelta(t, 75, r.Community.Score, 1e-9)
	assert.InDelta(t, 75, r.Efficiency.Score, 1e-9)
	assert.Equal(t, StatusNotImplemented, r.Delivery.Status)
	assert.Equal(t, StatusNotImplemented, r.Communication.Status)
	assert.Zero(t, r.Delivery.Score)
	assert.Zero(t, r.Communication.Score)
	assert.InDelta(t, 41.25, r.Overall, 1e-9)
	assert.Equal(t, BadgeUnproven, r.Badge)
	assert.Equal(t, ScoringVersion, r.Version)
}

func TestScoreWithoutData(t *testing.T) {
	r := Score(nil)
	assert.Equal(t, StatusNoData, r.Completion.Status)
	assert.Equal(t, StatusNoData, r.Community.Status)
	assert.Equal(t, StatusNoData, r.Efficiency.Status)
	assert.Zero(t, r.Overall)
	assert.Equal(t, BadgeConcerning, r.Badge)
}

func TestScoreEfficiencyZeroAwarded(t *testing.T) {
	r := Score([]ProjectRecord{{Funded: true, AwardedUSD: 0, ReceivedUSD: 500}})
	assert.Zero(t, r.Efficiency.Score)
	assert.Equal(t, StatusNoData, r.Efficiency.Status)
}

func TestScoreClampsAdversarialInputs(t *testing.T) {
	inputs := [][]ProjectRecord{
		{{Funded: true, Completed: true, AwardedUSD: 1, ReceivedUSD: 1e12, ReviewCount: 10, MeanRating: 99}},
		{{Funded: true, AwardedUSD: -100, ReceivedUSD: -5, ReviewCount: 2, MeanRating: -3}},
		{{Funded: true, AwardedUSD: math.Inf(1), ReceivedUSD: math.NaN(), ReviewCount: 1, MeanRating: math.NaN()}},
	}
	for _, in := range inputs {
		r := Score(in)
		for _, c := range []Component{r.Completion, r.Delivery, r.Community, r.Efficiency, r.Communication} {
			assert.GreaterOrEqual(t, c.Score, 0.0)
			assert.LessOrEqual(t, c.Score, 100.0)
		}
		assert.GreaterOrEqual(t, r.Overall, 0.0)
		assert.LessOrEqual(t, r.Overall, 100.0)
	}
}
