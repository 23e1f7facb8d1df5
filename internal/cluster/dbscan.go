// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cluster

import (
	"gonum.org/v1/gonum/mat"

	"github.com/pdiddy/litreview-engine/pkg/types"
)

const defaultMinSamples = 3

// DBSCAN clusters a precomputed dissimilarity matrix. The search radius is
// Params.Eps; MinSamples counts the point itself.
type DBSCAN struct {
	D          mat.Symmetric
	MinSamples int
}

// Run implements Runner.
func (b DBSCAN) Run(p Params) (Result, error) {
	ms := b.MinSamples
	if ms <= 0 {
		ms = defaultMinSamples
	}
	return Summarize(dbscan(b.D, p.Eps, ms)), nil
}

// dbscan labels clusters 0..k-1 in discovery order and noise -1.
func dbscan(d mat.Symmetric, eps float64, minSamples int) []int {
	n := d.SymmetricDim()
	const unvisited = -2

	labels := make([]int, n)
	for i := range labels {
		labels[i] = unvisited
	}

	cluster := 0
	for i := 0; i < n; i++ {
		if labels[i] != unvisited {
			continue
		}
		neighbors := rangeQuery(d, i, eps)
		if len(neighbors) < minSamples {
			labels[i] = types.NoiseLabel
			continue
		}

		labels[i] = cluster
		seed := make([]int, 0, len(neighbors))
		for _, j := range neighbors {
			if j != i {
				seed = append(seed, j)
			}
		}
		for len(seed) > 0 {
			q := seed[0]
			seed = seed[1:]

			if labels[q] == types.NoiseLabel {
				// Border point: claimed but not expanded.
				labels[q] = cluster
				continue
			}
			if labels[q] != unvisited {
				continue
			}
			labels[q] = cluster

			qNeighbors := rangeQuery(d, q, eps)
			if len(qNeighbors) >= minSamples {
				seed = append(seed, qNeighbors...)
			}
		}
		cluster++
	}
	return labels
}

// rangeQuery returns every index within eps of idx, idx included.
func rangeQuery(d mat.Symmetric, idx int, eps float64) []int {
	n := d.SymmetricDim()
	var out []int
	for j := 0; j < n; j++ {
		if d.At(idx, j) <= eps {
			out = append(out, j)
		}
	}
	return out
}
