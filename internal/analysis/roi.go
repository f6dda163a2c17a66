package analysis

const (
	// DefaultBaselineUSD is the reference funding unit funding is divided by.
	DefaultBaselineUSD = 10000.0
	// DefaultFundingFloor bounds normalized funding away from zero.
	DefaultFundingFloor = 0.1
	// ROIDisplayCap bounds the displayed ROI score. The raw ratio is
	// unbounded; a capped 100 means "at least 100", not a perfect score.
	ROIDisplayCap = 100.0
)

// ROIParams configures the ROI ratio.
type ROIParams struct {
	BaselineUSD float64
	Floor       float64
}

// DefaultROIParams returns the compiled-in baseline and floor.
func DefaultROIParams() ROIParams {
	return ROIParams{BaselineUSD: DefaultBaselineUSD, Floor: DefaultFundingFloor}
}

func (p ROIParams) withDefaults() ROIParams {
	if p.BaselineUSD <= 0 {
		p.BaselineUSD = DefaultBaselineUSD
	}
	if p.Floor <= 0 {
		p.Floor = DefaultFundingFloor
	}
	return p
}

// ROIValue is the outcome of one ROI calculation.
type ROIValue struct {
	NormalizedFunding float64 `json:"normalized_funding"`
	Raw               float64 `json:"raw_roi"`
	Score             float64 `json:"roi_score"`
	Capped            bool    `json:"capped"`
}

// CalculateROI divides the outcome score by funding expressed in baseline
// units. fundingUSD must already be in the comparison currency. Funding <= 0
// short-circuits to a zero ROI.
func CalculateROI(outcomeScore, fundingUSD float64, p ROIParams) ROIValue {
	if !(fundingUSD > 0) {
		return ROIValue{}
	}
	p = p.withDefaults()

	normalized := fundingUSD / p.BaselineUSD
	denominator := normalized
	if denominator < p.Floor {
		denominator = p.Floor
	}

	raw := clamp100(outcomeScore) / denominator
	v := ROIValue{NormalizedFunding: normalized, Raw: raw, Score: raw}
	if raw > ROIDisplayCap {
		v.Score = ROIDisplayCap
		v.Capped = true
	}
	return v
}
