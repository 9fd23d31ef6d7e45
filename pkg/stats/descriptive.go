// Package stats implements the statistical primitives used by the voxelwise
// analyses: ranking, descriptive statistics, Pearson and Spearman correlation,
// the Student's t distribution and two-sample t-tests.
package stats

import (
	"math"

	"neurostats/internal/models"
)

// ErrSizeMismatch is returned when two samples that must be paired have
// different lengths. It is the same sentinel as models.ErrSizeMismatch.
var ErrSizeMismatch = models.ErrSizeMismatch

// MeanIgnoringMissing returns the mean of the non-NaN entries of seq.
// If seq is empty or every entry is NaN the result is NaN; callers are
// expected to treat that as a degenerate statistic.
func MeanIgnoringMissing(seq []float64) float64 {
	sum := 0.0
	valid := 0
	for _, v := range seq {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		valid++
	}
	if valid == 0 {
		return math.NaN()
	}
	return sum / float64(valid)
}

// Variance returns the sample variance of seq around mean, using an N-1
// denominator. Fewer than two entries give NaN.
func Variance(seq []float64, mean float64) float64 {
	if len(seq) < 2 {
		return math.NaN()
	}
	ss := 0.0
	for _, v := range seq {
		d := v - mean
		ss += d * d
	}
	return ss / float64(len(seq)-1)
}
