// Package stats holds the sample statistics used to summarise a search tree.
package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	Epsilon = 1e-9
	// Z95 is the two-tailed z-value of a 95% confidence interval.
	Z95 = 1.96
)

func FuzzyEqual(a, b float64) bool {
	return math.Abs(a-b) < Epsilon
}

// Mean returns the arithmetic mean, or 0 for an empty sample.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

// PopStdev returns the population standard deviation (n denominator),
// or 0 for an empty sample.
func PopStdev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	_, variance := stat.PopMeanVariance(xs, nil)
	return math.Sqrt(variance)
}

// Percentile returns the element at floor(p*n) of an ascending sample.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	i := int(math.Floor(p * float64(n)))
	if i < 0 {
		i = 0
	}
	if i >= n {
		i = n - 1
	}
	return sorted[i]
}

// MaxDrawdown compounds the returns in order, starting from 1, and returns the
// largest relative decline from a running peak.
func MaxDrawdown(returns []float64) float64 {
	cumulative := 1.0
	peak := 1.0
	maxDrawdown := 0.0
	for _, r := range returns {
		cumulative *= 1 + r
		if cumulative > peak {
			peak = cumulative
		}
		if peak > 0 {
			maxDrawdown = math.Max(maxDrawdown, (peak-cumulative)/peak)
		}
	}
	return maxDrawdown
}
