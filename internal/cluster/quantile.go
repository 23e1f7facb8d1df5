// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cluster

import (
	"math"
	"sort"
)

// Percentile returns the q-th percentile (0..100) of x using linear
// interpolation between the closest ranks. It does not modify x.
func Percentile(x []float64, q float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	pos := q / 100 * float64(len(s)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo < 0 {
		lo = 0
	}
	if hi >= len(s) {
		hi = len(s) - 1
	}
	frac := pos - float64(lo)
	return s[lo] + frac*(s[hi]-s[lo])
}

// UpperFence returns Q3 + 1.5*IQR, the boxplot outlier threshold.
func UpperFence(x []float64) float64 {
	q1 := Percentile(x, 25)
	q3 := Percentile(x, 75)
	return q3 + 1.5*(q3-q1)
}
