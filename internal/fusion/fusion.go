// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fusion combines per-view embedding distances and a year distance
// into one weighted dissimilarity matrix, and projects dissimilarities back
// into a Euclidean space.
package fusion

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/pdiddy/litreview-engine/pkg/types"
)

var (
	// ErrMissingView is returned when a view with a positive weight has no matrix.
	ErrMissingView = errors.New("missing view")

	// ErrShape is returned when inputs disagree on the number of documents.
	ErrShape = errors.New("inconsistent input shape")
)

// Input holds the per-view embedding matrices (rows are documents, in the
// same order for every view) and the publication years.
type Input struct {
	Views map[types.View]*mat.Dense
	Years []float64
}

// Len returns the number of documents in the input, or -1 if it is empty.
func (in Input) Len() int {
	for _, m := range in.Views {
		if m != nil {
			r, _ := m.Dims()
			return r
		}
	}
	if in.Years != nil {
		return len(in.Years)
	}
	return -1
}

// Fuse returns D = sum(weight * D_view) + weight_year * D_year, clamped to be
// non-negative with an exact zero diagonal. Views and years whose weight is
// zero may be absent.
func Fuse(in Input, w types.Weights) (*mat.SymDense, error) {
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("fusion weights: %w", err)
	}
	n := in.Len()
	if n <= 0 {
		return nil, fmt.Errorf("%w: no documents", ErrShape)
	}

	out := mat.NewSymDense(n, nil)
	for _, v := range types.Views {
		weight := w.For(v)
		if weight == 0 {
			continue
		}
		m := in.Views[v]
		if m == nil {
			return nil, fmt.Errorf("%w: %s has weight %g", ErrMissingView, v, weight)
		}
		if r, _ := m.Dims(); r != n {
			return nil, fmt.Errorf("%w: view %s has %d rows, want %d", ErrShape, v, r, n)
		}
		addScaled(out, CosineDistances(m), weight)
	}

	if w.Year != 0 {
		if in.Years == nil {
			return nil, fmt.Errorf("%w: year has weight %g", ErrMissingView, w.Year)
		}
		if len(in.Years) != n {
			return nil, fmt.Errorf("%w: %d years, want %d", ErrShape, len(in.Years), n)
		}
		addScaled(out, YearDistances(in.Years), w.Year)
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := out.At(i, j)
			if i == j || v < 0 {
				v = 0
			}
			out.SetSym(i, j, v)
		}
	}
	return out, nil
}

func addScaled(dst *mat.SymDense, src *mat.SymDense, weight float64) {
	n := dst.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			dst.SetSym(i, j, dst.At(i, j)+weight*src.At(i, j))
		}
	}
}

// CosineDistances returns the pairwise 1 - cosine similarity of the rows of m.
// A zero row is at distance 1 from every other row.
func CosineDistances(m mat.Matrix) *mat.SymDense {
	n, _ := m.Dims()
	rows := make([][]float64, n)
	norms := make([]float64, n)
	for i := 0; i < n; i++ {
		rows[i] = mat.Row(nil, i, m)
		norms[i] = floats.Norm(rows[i], 2)
	}

	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := 1.0
			if norms[i] > 0 && norms[j] > 0 {
				cos := floats.Dot(rows[i], rows[j]) / (norms[i] * norms[j])
				d = 1 - math.Max(-1, math.Min(1, cos))
			}
			out.SetSym(i, j, d)
		}
	}
	return out
}

// YearDistances returns |y_i - y_j| divided by the largest pairwise gap.
// A single-year set yields the zero matrix.
func YearDistances(years []float64) *mat.SymDense {
	n := len(years)
	out := mat.NewSymDense(n, nil)
	if n == 0 {
		return out
	}
	span := floats.Max(years) - floats.Min(years)
	if span == 0 {
		return out
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			out.SetSym(i, j, math.Abs(years[i]-years[j])/span)
		}
	}
	return out
}
