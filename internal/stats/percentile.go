package stats

import (
	"math"
	"sort"
)

// Percentile interpolates linearly between the two closest ranks, matching
// SQL PERCENTILE_CONT. p is in [0, 1]. It returns false for an empty input.
func Percentile(values []float64, p float64) (float64, bool) {
	if len(values) == 0 || math.IsNaN(p) {
		return 0, false
	}
	p = math.Max(0, math.Min(1, p))

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	pos := p * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower], true
	}
	frac := pos - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower]), true
}

// PercentilePtr is Percentile returning nil for an empty input.
func PercentilePtr(values []float64, p float64) *float64 {
	v, ok := Percentile(values, p)
	if !ok {
		return nil
	}
	return &v
}
