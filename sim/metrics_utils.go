// sim/metrics_utils.go
package sim

import "math"

// CalculatePercentile computes the p-th percentile of a data list by linear
// interpolation between closest ranks. The slice must be sorted ascending.
func CalculatePercentile(data []float64, p float64) float64 {
	n := len(data)
	if n == 0 {
		return 0.0
	}

	rank := p / 100.0 * float64(n-1)
	lowerIdx := int(math.Floor(rank))
	upperIdx := int(math.Ceil(rank))

	if lowerIdx == upperIdx {
		return data[lowerIdx]
	}
	if upperIdx >= n {
		return data[n-1]
	}
	lowerVal := data[lowerIdx]
	upperVal := data[upperIdx]
	return lowerVal + (upperVal-lowerVal)*(rank-float64(lowerIdx))
}

// Round rounds a value to the given number of decimal places. Reported
// metrics use two places; intermediate math stays at full precision.
func Round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
