// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package balance scores how evenly sized a partition's categories are.
// Lower is better.
package balance

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/pdiddy/litreview-engine/pkg/types"
)

// Band is the ideal category size range.
type Band struct {
	Min int
	Max int
}

// Coarse is the band for round-1 parent categories.
var Coarse = Band{Min: 20, Max: 50}

// Fine is the band for round-2 child categories.
var Fine = Band{Min: 6, Max: 15}

// BandFrom converts configuration to a Band, keeping def for zero fields.
func BandFrom(cfg types.BandConfig, def Band) Band {
	b := def
	if cfg.Min > 0 {
		b.Min = cfg.Min
	}
	if cfg.Max > 0 {
		b.Max = cfg.Max
	}
	return b
}

// Scorer computes std(sizes) + mean(penalty). A category smaller than
// Band.Min costs LowWeight*(Min-c)^2; one larger than Band.Max costs
// HighWeight*(c-Max).
type Scorer struct {
	Band       Band
	LowWeight  float64
	HighWeight float64
}

// New returns a scorer for band with the default penalty weights.
func New(band Band) Scorer {
	return Scorer{Band: band, LowWeight: 2.0, HighWeight: 0.5}
}

// Score returns the balance score of the category sizes, or +Inf when
// there are none. The result does not depend on the order of sizes.
func (s Scorer) Score(sizes []int) float64 {
	if len(sizes) == 0 {
		return math.Inf(1)
	}
	sorted := append([]int(nil), sizes...)
	sort.Ints(sorted)
	x := make([]float64, len(sorted))
	penalty := 0.0
	for i, c := range sorted {
		x[i] = float64(c)
		switch {
		case c < s.Band.Min:
			gap := float64(s.Band.Min - c)
			penalty += s.LowWeight * gap * gap
		case c > s.Band.Max:
			penalty += s.HighWeight * float64(c-s.Band.Max)
		}
	}
	_, std := stat.PopMeanStdDev(x, nil)
	return std + penalty/float64(len(sizes))
}

// ScoreLabels scores a label vector. Noise labels are ignored.
func (s Scorer) ScoreLabels(labels []int) float64 {
	counts := make(map[int]int)
	for _, l := range labels {
		if l != types.NoiseLabel {
			counts[l]++
		}
	}
	return s.Score(values(counts))
}

// ScorePartition scores the real documents of a partition. Anchors and
// noise are ignored.
func (s Scorer) ScorePartition(p types.Partition) float64 {
	return s.Score(values(p.Sizes()))
}

func values(counts map[int]int) []int {
	out := make([]int, 0, len(counts))
	for _, c := range counts {
		out = append(out, c)
	}
	return out
}
