package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateROIZeroFunding(t *testing.T) {
	for _, outcome := range []float64{0, 1, 50.25, 100} {
		v := CalculateROI(outcome, 0, DefaultROIParams())
		assert.Equal(t, 0.0, v.Score)
		assert.Equal(t, 0.0, v.Raw)
	}
	assert.Equal(t, 0.0, CalculateROI(80, -100, DefaultROIParams()).Score)
}

func TestCalculateROI(t *testing.T) {
	v := CalculateROI(50, 50000, DefaultROIParams())
	assert.InDelta(t, 5.0, v.NormalizedFunding, 1e-12)
	assert.InDelta(t, 10.0, v.Score, 1e-12)
	assert.False(t, v.Capped)
}

func TestCalculateROIFloorAndCap(t *testing.T) {
	// 100 USD is 0.01 baseline units, floored to 0.1
	v := CalculateROI(50, 100, DefaultROIParams())
	assert.InDelta(t, 0.01, v.NormalizedFunding, 1e-12)
	assert.InDelta(t, 500.0, v.Raw, 1e-9)
	assert.Equal(t, ROIDisplayCap, v.Score)
	assert.True(t, v.Capped)
}

func TestCalculateROIMonotonic(t *testing.T) {
	p := DefaultROIParams()
	fundings := []float64{1, 500, 1000, 5000, 10000, 75000, 250000, 1e7}
	outcomes := []float64{0, 5, 10, 25, 50.25, 80, 100}

	for _, f := range fundings {
		prev := -1.0
		for _, o := range outcomes {
			got := CalculateROI(o, f, p)
			assert.GreaterOrEqual(t, got.Raw, prev, "funding %v outcome %v", f, o)
			prev = got.Raw
		}
	}

	for _, o := range outcomes {
		prev := CalculateROI(o, fundings[0], p)
		for _, f := range fundings[1:] {
			got := CalculateROI(o, f, p)
			assert.LessOrEqual(t, got.Raw, prev.Raw, "outcome %v funding %v", o, f)
			assert.LessOrEqual(t, got.Score, prev.Score, "outcome %v funding %v", o, f)
			prev = got
		}
	}
}

func TestROIParamsDefaults(t *testing.T) {
	v := CalculateROI(40, 20000, ROIParams{})
	assert.InDelta(t, 20.0, v.Score, 1e-12)
}
