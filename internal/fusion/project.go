// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fusion

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// eigenFloor drops eigenvalues that carry no usable spread.
const eigenFloor = 1e-10

// Project embeds a dissimilarity matrix into dims Euclidean coordinates by
// classical multidimensional scaling. When the matrix supports fewer
// positive eigenvalues than requested the remaining columns are zero, so the
// result is always n x dims.
func Project(d mat.Symmetric, dims int) *mat.Dense {
	n := d.SymmetricDim()
	out := mat.NewDense(max(n, 1), max(dims, 1), nil)
	if n == 0 || dims <= 0 {
		return out
	}
	if n == 1 {
		return out
	}

	// B = -1/2 * J * D^2 * J with J the centring matrix.
	sq := make([]float64, n*n)
	rowMean := make([]float64, n)
	total := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := d.At(i, j)
			v *= v
			sq[i*n+j] = v
			rowMean[i] += v
		}
		total += rowMean[i]
		rowMean[i] /= float64(n)
	}
	grand := total / float64(n*n)

	b := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			b.SetSym(i, j, -0.5*(sq[i*n+j]-rowMean[i]-rowMean[j]+grand))
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(b, true); !ok {
		return out
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, c int) bool { return values[order[a]] > values[order[c]] })

	for col := 0; col < dims && col < n; col++ {
		idx := order[col]
		lambda := values[idx]
		if lambda <= eigenFloor {
			break
		}
		scale := math.Sqrt(lambda)
		// Fix the sign so the largest component is positive; keeps runs comparable.
		sign := 1.0
		best := 0.0
		for i := 0; i < n; i++ {
			if v := vectors.At(i, idx); math.Abs(v) > math.Abs(best) {
				best = v
			}
		}
		if best < 0 {
			sign = -1
		}
		for i := 0; i < n; i++ {
			out.Set(i, col, sign*scale*vectors.At(i, idx))
		}
	}
	return out
}
