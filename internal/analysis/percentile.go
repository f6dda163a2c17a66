package analysis

import "sort"

// TieMode selects how equal scores are ranked.
type TieMode string

const (
	// TiePositional gives tied entries distinct percentiles following their
	// input order.
	TiePositional TieMode = "positional"
	// TieAverage gives tied entries the mean of their positions.
	TieAverage TieMode = "average"
)

// ParseTieMode returns TiePositional for anything but "average".
func ParseTieMode(s string) TieMode {
	if TieMode(s) == TieAverage {
		return TieAverage
	}
	return TiePositional
}

// RankInput is one entry of a ranking batch.
type RankInput struct {
	ID       string
	Category string
	Score    float64
}

// Percentiles are rank-based positions within a batch, in (0, 100].
type Percentiles struct {
	Overall  float64 `json:"overall_percentile"`
	Category float64 `json:"category_percentile"`
}

// RankPercentiles computes position/count*100 after an ascending stable sort,
// once over the whole batch and once per category. Results are only
// comparable with other results from the same call.
func RankPercentiles(items []RankInput, mode TieMode) map[string]Percentiles {
	out := make(map[string]Percentiles, len(items))
	if len(items) == 0 {
		return out
	}

	for id, p := range rankGroup(items, mode) {
		out[id] = Percentiles{Overall: p}
	}

	groups := make(map[string][]RankInput)
	var order []string
	for _, it := range items {
		if _, ok := groups[it.Category]; !ok {
			order = append(order, it.Category)
		}
		groups[it.Category] = append(groups[it.Category], it)
	}
	for _, category := range order {
		for id, p := range rankGroup(groups[category], mode) {
			entry := out[id]
			entry.Category = p
			out[id] = entry
		}
	}
	return out
}

func rankGroup(items []RankInput, mode TieMode) map[string]float64 {
	sorted := append([]RankInput(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score < sorted[j].Score })

	n := float64(len(sorted))
	out := make(map[string]float64, len(sorted))
	for i := 0; i < len(sorted); {
		j := i
		if mode == TieAverage {
			for j+1 < len(sorted) && sorted[j+1].Score == sorted[i].Score {
				j++
			}
		}
		// positions are 1-based; i..j is the tie run
		position := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			if mode == TieAverage {
				out[sorted[k].ID] = position / n * 100
			} else {
				out[sorted[k].ID] = float64(k+1) / n * 100
			}
		}
		i = j + 1
	}
	return out
}
