// Package accountability scores people on their delivery history across
// every project they are linked to.
package accountability

import (
	"math"

	"github.com/ZanzyTHEbar/fundscope/internal/analysis"
)

// ScoringVersion is stored with every score. Bump it when a component
// gains a data source or the weights change.
const ScoringVersion = "1.delivery-communication-pending"

// ComponentStatus distinguishes a computed zero from a missing input.
type ComponentStatus string

const (
	StatusComputed       ComponentStatus = "computed"
	StatusNoData         ComponentStatus = "no_data"
	StatusNotImplemented ComponentStatus = "not_implemented"
)

// Weights is the accountability weighting table.
type Weights struct {
	Completion    float64 `json:"completion"`
	Delivery      float64 `json:"delivery"`
	Community     float64 `json:"community"`
	Efficiency    float64 `json:"efficiency"`
	Communication float64 `json:"communication"`
}

// Sum of all weights.
func (w Weights) Sum() float64 {
	return w.Completion + w.Delivery + w.Community + w.Efficiency + w.Communication
}

// CanonicalWeights is the only weighting used anywhere in scoring.
var CanonicalWeights = Weights{
	Completion:    0.30,
	Delivery:      0.25,
	Community:     0.20,
	Efficiency:    0.15,
	Communication: 0.10,
}

// Badge is the person-level tier. Project badges are a separate type in
// the analysis package.
type Badge string

const (
	BadgeTrusted    Badge = "trusted"
	BadgeReliable   Badge = "reliable"
	BadgeUnproven   Badge = "unproven"
	BadgeConcerning Badge = "concerning"
)

// BadgeFor maps an overall score onto its tier.
func BadgeFor(score float64) Badge {
	switch {
	case score >= 80:
		return BadgeTrusted
	case score >= 60:
		return BadgeReliable
	case score >= 40:
		return BadgeUnproven
	default:
		return BadgeConcerning
	}
}

// Component is one weighted sub-score with the reason for its value.
type Component struct {
	Score    float64         `json:"score"`
	Weight   float64         `json:"weight"`
	Weighted float64         `json:"weighted"`
	Status   ComponentStatus `json:"status"`
}

func component(score, weight float64, status ComponentStatus) Component {
	if status != StatusComputed {
		score = 0
	}
	score = analysis.Clamp100(score)
	return Component{Score: score, Weight: weight, Weighted: score * weight, Status: status}
}

// ProjectRecord is one linked project with money already in USD.
type ProjectRecord struct {
	Funded      bool
	Completed   bool
	AwardedUSD  float64
	ReceivedUSD float64
	ReviewCount int
	MeanRating  float64
}

// Result is a scored person.
type Result struct {
	Completion    Component `json:"completion"`
	Delivery      Component `json:"delivery"`
	Community     Component `json:"community"`
	Efficiency    Component `json:"efficiency"`
	Communication Component `json:"communication"`
	Overall       float64   `json:"overall"`
	Badge         Badge     `json:"badge"`
	Version       string    `json:"version"`
}

// Score aggregates a person's projects. It is pure; persisting the result
// and guarding disputed state is the caller's job.
func Score(projects []ProjectRecord) Result {
	w := CanonicalWeights

	var (
		funded, completed int
		awarded, received float64
		reviews           int
		ratingSum         float64
	)
	for _, p := range projects {
		if p.Funded {
			funded++
			awarded += nonNegative(p.AwardedUSD)
			received += nonNegative(p.ReceivedUSD)
			if p.Completed {
				completed++
			}
		}
		if p.ReviewCount > 0 && !math.IsNaN(p.MeanRating) {
			reviews += p.ReviewCount
			ratingSum += float64(p.ReviewCount) * p.MeanRating
		}
	}

	r := Result{
		Delivery:      component(0, w.Delivery, StatusNotImplemented),
		Communication: component(0, w.Communication, StatusNotImplemented),
		Version:       ScoringVersion,
	}

	if funded > 0 {
		r.Completion = component(float64(completed)/float64(funded)*100, w.Completion, StatusComputed)
	} else {
		r.Completion = component(0, w.Completion, StatusNoData)
	}

	if reviews > 0 {
		r.Community = component(analysis.RatingToScore(ratingSum/float64(reviews)), w.Community, StatusComputed)
	} else {
		r.Community = component(0, w.Community, StatusNoData)
	}

	if awarded > 0 {
		r.Efficiency = component(received/awarded*100, w.Efficiency, StatusComputed)
	} else {
		r.Efficiency = component(0, w.Efficiency, StatusNoData)
	}

	r.Overall = analysis.Clamp100(r.Completion.Weighted + r.Delivery.Weighted + r.Community.Weighted +
		r.Efficiency.Weighted + r.Communication.Weighted)
	r.Badge = BadgeFor(r.Overall)
	return r
}

func nonNegative(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	return x
}
