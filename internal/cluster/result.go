// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package cluster finds clustering parameters over a precomputed
// dissimilarity matrix. A guided step search moves the primary radius of a
// density backend (DBSCAN, HDBSCAN) until the result lands in the target
// band; the centroid backend picks K by penalised silhouette instead.
package cluster

import (
	"fmt"
	"sort"

	"github.com/pdiddy/litreview-engine/pkg/types"
)

// Result summarises one backend run.
type Result struct {
	Labels []int
	// K is the number of non-noise clusters.
	K int
	// Noise is the fraction of points labelled -1.
	Noise float64
	// Sizes holds the non-noise cluster sizes in ascending order.
	Sizes []int
}

// Summarize computes K, Noise and Sizes from a label vector.
func Summarize(labels []int) Result {
	r := Result{Labels: labels}
	if len(labels) == 0 {
		return r
	}
	counts := make(map[int]int)
	noise := 0
	for _, l := range labels {
		if l == types.NoiseLabel {
			noise++
			continue
		}
		counts[l]++
	}
	r.K = len(counts)
	r.Noise = float64(noise) / float64(len(labels))
	for _, c := range counts {
		r.Sizes = append(r.Sizes, c)
	}
	sort.Ints(r.Sizes)
	return r
}

// Balanced reports whether the smallest cluster holds at least a fifth of
// the largest. Results with fewer than two clusters count as balanced.
func (r Result) Balanced() bool {
	if len(r.Sizes) < 2 {
		return true
	}
	return float64(r.Sizes[0]) >= float64(r.Sizes[len(r.Sizes)-1])/5.0
}

func (r Result) String() string {
	return fmt.Sprintf("k=%d noise=%.3f sizes=%v", r.K, r.Noise, r.Sizes)
}

// Target is the acceptance band of the search.
type Target struct {
	MinK     int
	MaxK     int
	MaxNoise float64
}

// DefaultTarget is two to five clusters with at most 40% noise.
var DefaultTarget = Target{MinK: 2, MaxK: 5, MaxNoise: 0.4}

// TargetFrom reads the band from configuration, filling zero values with
// DefaultTarget.
func TargetFrom(cfg types.ClusterConfig) Target {
	t := DefaultTarget
	if cfg.MinK > 0 {
		t.MinK = cfg.MinK
	}
	if cfg.MaxK > 0 {
		t.MaxK = cfg.MaxK
	}
	if cfg.MaxNoise > 0 {
		t.MaxNoise = cfg.MaxNoise
	}
	return t
}

// Reached reports whether r lies inside the band.
func (t Target) Reached(r Result) bool {
	return r.K >= t.MinK && r.K <= t.MaxK && r.Noise <= t.MaxNoise
}

// State is the search state after an iteration.
type State int

const (
	// Searching means the result is outside the band and a move is pending.
	Searching State = iota
	// Overshot means the last trial crossed the band and was rejected.
	Overshot
	// Success means the result lies in the band.
	Success
	// Conflict means the band cannot be reached: a single cluster with
	// too much noise, or no move left to try.
	Conflict
)

func (s State) String() string {
	switch s {
	case Searching:
		return "searching"
	case Overshot:
		return "overshot"
	case Success:
		return "success"
	case Conflict:
		return "conflict"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether the search stops in this state.
func (s State) Terminal() bool {
	return s == Success || s == Conflict
}

// Classify decides the state of a result and the direction of the next
// move: -1 shrinks the radius to split clusters, +1 grows it to merge
// clusters or absorb noise.
func Classify(t Target, r Result) (State, int) {
	switch {
	case t.Reached(r):
		return Success, 0
	case r.K == 1 && r.Noise > t.MaxNoise:
		return Conflict, 0
	case r.K == 1:
		return Searching, -1
	case r.Noise > t.MaxNoise || r.K > t.MaxK:
		return Searching, 1
	}
	return Success, 0
}
