package collector

import (
	"math"
	"slices"

	"cloudsql-report-agent/internal/model"
)

// Reduce collapses samples into one scaled value. ok is false when there is no data,
// so callers can tell "no samples" from a measured zero.
func Reduce(policy model.ReductionPolicy, samples []float64, scale float64) (value float64, ok bool) {
	if len(samples) == 0 {
		return 0, false
	}
	switch policy {
	case model.PolicyPercentile99:
		return Percentile(samples, 99) * scale, true
	case model.PolicyMax:
		return slices.Max(samples) * scale, true
	case model.PolicyMin:
		// Connection series are already reduced server-side; the cross-series minimum
		// tracks the dashboard's peak-connections figure.
		return slices.Min(samples) * scale, true
	default:
		return 0, false
	}
}

// Percentile uses linear interpolation between the two closest ranks (rank = p/100*(n-1)).
// samples is not modified. Returns NaN on empty input.
func Percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return math.NaN()
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
