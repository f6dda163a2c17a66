package analysis

import "math"

// clip bounds x to [lo, hi]. NaN maps to lo.
func clip(x, lo, hi float64) float64 {
	if math.IsNaN(x) || x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func clamp100(x float64) float64 { return clip(x, 0, 100) }

// capped is min(x, hi) with negatives floored at zero.
func capped(x, hi float64) float64 { return clip(x, 0, hi) }

// Clamp100 bounds a score to [0, 100]. NaN maps to 0.
func Clamp100(x float64) float64 { return clamp100(x) }
