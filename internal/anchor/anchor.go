// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package anchor assigns documents to the categories of a fixed set of
// synthetic anchor documents. Assignment runs in three stages: a global
// consensus lock, a re-judgment of the leftovers against locally calibrated
// thresholds, and a migration pass that feeds under-populated categories
// from over-populated ones.
package anchor

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/pdiddy/litreview-engine/internal/cluster"
	"github.com/pdiddy/litreview-engine/pkg/types"
)

// FallbackID is the label given to an anchor whose title carries no number.
const FallbackID = 999

// minScale keeps normalising denominators away from zero.
const minScale = 1e-6

// ErrShape is returned when the title list and the matrix disagree in size.
var ErrShape = errors.New("titles and distance matrix differ in size")

var titlePattern = regexp.MustCompile(`__ANCHOR_(\d+)__`)

// Title returns the synthetic document title of anchor id.
func Title(id int) string {
	return fmt.Sprintf("%s%d__", types.AnchorPrefix, id)
}

// ParseTitle reports whether t is an anchor title and, if so, its label.
// Anchor titles without a parseable number get FallbackID.
func ParseTitle(t string) (int, bool) {
	if !types.IsAnchorTitle(t) {
		return 0, false
	}
	m := titlePattern.FindStringSubmatch(t)
	if m == nil {
		return FallbackID, true
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return FallbackID, true
	}
	return id, true
}

// Stage records which step decided a document's label.
type Stage int

const (
	StageNoise Stage = iota
	StageAnchor
	StageConsensus
	StageRejudge
	StageBalance
)

func (s Stage) String() string {
	switch s {
	case StageNoise:
		return "noise"
	case StageAnchor:
		return "anchor"
	case StageConsensus:
		return "consensus"
	case StageRejudge:
		return "rejudge"
	case StageBalance:
		return "balance"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Migration is one Stage-3 move.
type Migration struct {
	Title      string
	From, To   int
	Similarity float64
}

// Result is the outcome of adsorption, aligned with the input titles.
type Result struct {
	Labels     []int
	Stages     []Stage
	Migrations []Migration
	// Warning is set when the input held no anchors.
	Warning string
}

// Counts returns the number of documents decided by each stage.
func (r Result) Counts() map[Stage]int {
	out := make(map[Stage]int)
	for _, s := range r.Stages {
		out[s]++
	}
	return out
}

func withDefaults(cfg types.AnchorConfig) types.AnchorConfig {
	def := types.DefaultTaxonomyConfig().Anchor
	if cfg.LockCutoff <= 0 {
		cfg.LockCutoff = def.LockCutoff
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.PoorFloor <= 0 {
		cfg.PoorFloor = def.PoorFloor
	}
	if cfg.PoorFraction <= 0 {
		cfg.PoorFraction = def.PoorFraction
	}
	return cfg
}

// Adsorb labels every row of d. titles[i] names row i; rows whose title is
// an anchor title are anchors and keep their own label throughout.
func Adsorb(titles []string, d mat.Symmetric, cfg types.AnchorConfig) (Result, error) {
	n := d.SymmetricDim()
	if len(titles) != n {
		return Result{}, fmt.Errorf("%w: %d titles, %d rows", ErrShape, len(titles), n)
	}
	cfg = withDefaults(cfg)

	res := Result{
		Labels: make([]int, n),
		Stages: make([]Stage, n),
	}
	for i := range res.Labels {
		res.Labels[i] = types.NoiseLabel
	}

	var anchors []int
	labelOf := make(map[int]int)
	for i, t := range titles {
		if id, ok := ParseTitle(t); ok {
			anchors = append(anchors, i)
			labelOf[i] = id
			res.Labels[i] = id
			res.Stages[i] = StageAnchor
		}
	}
	if len(anchors) == 0 {
		res.Warning = "no anchor documents present; every document is noise"
		return res, nil
	}

	a := &adsorber{titles: titles, d: d, cfg: cfg, anchors: anchors, labelOf: labelOf, res: &res}
	a.means = a.anchorMeans()
	unresolved := a.consensus()
	a.rejudge(unresolved)
	a.balance()
	return res, nil
}

type adsorber struct {
	titles  []string
	d       mat.Symmetric
	cfg     types.AnchorConfig
	anchors []int
	labelOf map[int]int
	means   []float64
	res     *Result
}

// anchorMeans is each anchor's mean distance to every row, anchors included.
func (a *adsorber) anchorMeans() []float64 {
	n := a.d.SymmetricDim()
	means := make([]float64, len(a.anchors))
	for k, col := range a.anchors {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += a.d.At(i, col)
		}
		means[k] = max(sum/float64(n), minScale)
	}
	return means
}

func (a *adsorber) isAnchor(i int) bool {
	_, ok := a.labelOf[i]
	return ok
}

// consensus locks a row when the raw nearest anchor and the mean-normalised
// nearest anchor agree and the raw distance is under the cutoff. It returns
// the rows left unresolved.
func (a *adsorber) consensus() []int {
	var unresolved []int
	for i := range a.titles {
		if a.isAnchor(i) {
			continue
		}
		raw, norm := 0, 0
		for k, col := range a.anchors {
			if a.d.At(i, col) < a.d.At(i, a.anchors[raw]) {
				raw = k
			}
			if a.d.At(i, col)/a.means[k] < a.d.At(i, a.anchors[norm])/a.means[norm] {
				norm = k
			}
		}
		if raw == norm && a.d.At(i, a.anchors[raw]) < a.cfg.LockCutoff {
			a.res.Labels[i] = a.labelOf[a.anchors[raw]]
			a.res.Stages[i] = StageConsensus
			continue
		}
		unresolved = append(unresolved, i)
	}
	return unresolved
}

// rejudge scores unresolved rows against the 25th percentile distance of
// the unresolved set to each anchor.
func (a *adsorber) rejudge(rows []int) {
	if len(rows) == 0 {
		return
	}
	scale := make([]float64, len(a.anchors))
	col := make([]float64, len(rows))
	for k, c := range a.anchors {
		for r, i := range rows {
			col[r] = a.d.At(i, c)
		}
		q25 := max(cluster.Percentile(col, 25), minScale)
		scale[k] = max(1-q25, minScale)
	}

	for _, i := range rows {
		best, bestSim := 0, -1e300
		for k, c := range a.anchors {
			sim := (1 - a.d.At(i, c)) / scale[k]
			if sim > bestSim {
				best, bestSim = k, sim
			}
		}
		if bestSim >= a.cfg.SimilarityThreshold {
			a.res.Labels[i] = a.labelOf[a.anchors[best]]
			a.res.Stages[i] = StageRejudge
		}
	}
}

// balance migrates one document per iteration from a rich category to a
// poor one. It stops when no poor or no rich category remains, or when the
// iteration cap is hit; in the last two cases a poor category stays poor.
func (a *adsorber) balance() {
	simMeans := make([]float64, len(a.anchors))
	for k, m := range a.means {
		simMeans[k] = max(1-m, minScale)
	}

	for iter := 0; iter < a.cfg.MaxIterations; iter++ {
		counts := make(map[int]int)
		for _, c := range a.anchors {
			counts[a.labelOf[c]] = 0
		}
		total := 0
		for _, l := range a.res.Labels {
			if _, ok := counts[l]; ok {
				counts[l]++
				total++
			}
		}
		if total == 0 {
			return
		}

		poor := make(map[int]bool)
		rich := make(map[int]bool)
		for l, c := range counts {
			if c <= a.cfg.PoorFloor || float64(c) <= float64(total)*a.cfg.PoorFraction {
				poor[l] = true
			} else {
				rich[l] = true
			}
		}
		if len(poor) == 0 || len(rich) == 0 {
			return
		}

		bestRow, bestAnchor, bestSim := -1, -1, 0.0
		for i, l := range a.res.Labels {
			if a.isAnchor(i) || !rich[l] {
				continue
			}
			for k, c := range a.anchors {
				if !poor[a.labelOf[c]] {
					continue
				}
				sim := (1 - a.d.At(i, c)) / simMeans[k]
				if bestRow < 0 || sim > bestSim {
					bestRow, bestAnchor, bestSim = i, k, sim
				}
			}
		}
		if bestRow < 0 {
			return
		}

		to := a.labelOf[a.anchors[bestAnchor]]
		a.res.Migrations = append(a.res.Migrations, Migration{
			Title:      a.titles[bestRow],
			From:       a.res.Labels[bestRow],
			To:         to,
			Similarity: bestSim,
		})
		a.res.Labels[bestRow] = to
		a.res.Stages[bestRow] = StageBalance
	}
}
