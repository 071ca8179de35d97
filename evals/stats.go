package evals

import (
	"math"
	"sort"
)

// SummaryStats are the aggregate statistics reported per metric.
type SummaryStats struct {
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
}

// Summarize computes mean, population standard deviation, min, median and
// max. An empty input yields the zero value.
func Summarize(values []float64) SummaryStats {
	if len(values) == 0 {
		return SummaryStats{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	variance := 0.0
	for _, v := range sorted {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(sorted))

	return SummaryStats{
		Mean:   mean,
		Std:    math.Sqrt(variance),
		Min:    sorted[0],
		Median: median(sorted),
		Max:    sorted[len(sorted)-1],
		Count:  len(sorted),
	}
}

// MRRStats aggregates a nullable metric: only observed values enter the
// average, and the observation count is reported alongside.
type MRRStats struct {
	SummaryStats
	Observed int `json:"observed"`
}

// SummarizeMRR averages only non-nil reciprocal ranks.
func SummarizeMRR(values []*float64) MRRStats {
	observed := make([]float64, 0, len(values))
	for _, v := range values {
		if v != nil {
			observed = append(observed, *v)
		}
	}
	return MRRStats{
		SummaryStats: Summarize(observed),
		Observed:     len(observed),
	}
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
