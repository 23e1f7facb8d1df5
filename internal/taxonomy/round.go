// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package taxonomy

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/pdiddy/litreview-engine/internal/anchor"
	"github.com/pdiddy/litreview-engine/internal/balance"
	"github.com/pdiddy/litreview-engine/internal/cluster"
	"github.com/pdiddy/litreview-engine/internal/embed"
	"github.com/pdiddy/litreview-engine/internal/fusion"
	"github.com/pdiddy/litreview-engine/internal/llm"
	"github.com/pdiddy/litreview-engine/pkg/types"
)

const (
	defaultCandidates = 3
	defaultAnchorYear = 2025
	defaultDims       = 20
	vizDims           = 3
)

// MethodAnchor is the Method recorded for partitions built from anchors.
const MethodAnchor = "anchor"

type round struct {
	name   string
	docs   []types.Document
	rc     types.RoundConfig
	band   balance.Band
	req    llm.Request
	report bool
}

// candidate is one evaluated anchor set.
type candidate struct {
	index     int
	anchors   map[int]string
	partition types.Partition
	adsorbed  anchor.Result
	score     float64
}

func (o *Orchestrator) report(r *round, percent int, message string) {
	if r.report {
		o.progress(percent, message)
	}
}

func (o *Orchestrator) run(ctx context.Context, r *round) (*types.RoundOutput, error) {
	log := o.log().With("round", r.name, "documents", len(r.docs))

	o.report(r, 5, "generating anchor candidates")
	sets := o.generate(ctx, r)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.report(r, 30, "evaluating anchor candidates")
	cands, err := o.evaluateAll(ctx, r, sets)
	if err != nil {
		return nil, err
	}

	var out *types.RoundOutput
	if best := selectBest(cands); best != nil {
		out = &types.RoundOutput{
			Results:  best.partition,
			Anchor:   types.LabelMap[string](best.anchors),
			Keywords: types.LabelMap[[]string]{},
			Score:    best.score,
			Method:   MethodAnchor,
		}
		log.Info("anchor candidate selected",
			"candidate", best.index,
			"score", best.score,
			"stages", stageCounts(best.adsorbed),
			"migrations", len(best.adsorbed.Migrations))
	} else {
		log.Warn("falling back to unsupervised clustering", "reason", ErrNoCandidates.Error())
		o.report(r, 50, "no usable anchors, clustering without them")
		out, err = o.fallback(ctx, r)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrRoundFailed, r.name, err)
		}
	}

	o.report(r, 80, "extracting category keywords")
	o.attachKeywords(ctx, r, out)
	o.report(r, 100, fmt.Sprintf("%s finished with score %.4f", r.name, out.Score))
	return out, nil
}

// generate requests Cfg.Candidates anchor sets concurrently. A failed or
// empty set is nil.
func (o *Orchestrator) generate(ctx context.Context, r *round) []map[int]string {
	n := o.Cfg.Candidates
	if n <= 0 {
		n = defaultCandidates
	}
	sets := make([]map[int]string, n)
	if o.Anchors == nil {
		return sets
	}

	var eg errgroup.Group
	for i := range sets {
		i := i
		eg.Go(func() error {
			set, err := o.Anchors.Generate(ctx, r.req)
			if err != nil {
				o.log().Warn("anchor candidate failed", "round", r.name, "candidate", i, "error", err)
				return nil
			}
			if len(set) > 0 {
				sets[i] = set
			}
			return nil
		})
	}
	eg.Wait()
	return sets
}

// evaluateAll scores every non-nil anchor set concurrently. A candidate
// whose evaluation fails is dropped; only cancellation is returned.
func (o *Orchestrator) evaluateAll(ctx context.Context, r *round, sets []map[int]string) ([]*candidate, error) {
	cands := make([]*candidate, len(sets))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, set := range sets {
		if set == nil {
			continue
		}
		i, set := i, set
		eg.Go(func() error {
			c, err := o.evaluate(egCtx, r, set)
			if err != nil {
				if egCtx.Err() != nil {
					return egCtx.Err()
				}
				o.log().Warn("anchor candidate evaluation failed", "round", r.name, "candidate", i, "error", err)
				return nil
			}
			c.index = i
			cands[i] = c
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return cands, nil
}

// selectBest returns the candidate with the lowest score. The comparison is
// strict, so the earliest of equal scores wins.
func selectBest(cands []*candidate) *candidate {
	var best *candidate
	for _, c := range cands {
		if c == nil {
			continue
		}
		if best == nil || c.score < best.score {
			best = c
		}
	}
	return best
}

func (o *Orchestrator) evaluate(ctx context.Context, r *round, anchors map[int]string) (*candidate, error) {
	docs := withAnchors(r.docs, anchors, o.anchorYear())
	d, err := o.fuse(ctx, docs, r.rc.Weights)
	if err != nil {
		return nil, err
	}

	titles := make([]string, len(docs))
	for i, doc := range docs {
		titles[i] = doc.Title
	}
	res, err := anchor.Adsorb(titles, d, o.Cfg.Anchor)
	if err != nil {
		return nil, fmt.Errorf("adsorbing: %w", err)
	}
	if res.Warning != "" {
		o.log().Warn("adsorption warning", "round", r.name, "warning", res.Warning)
	}

	p := buildPartition(docs, res.Labels, fusion.Project(d, vizDims))
	return &candidate{
		anchors:   anchors,
		partition: p,
		adsorbed:  res,
		score:     balance.New(r.band).ScorePartition(p),
	}, nil
}

func (o *Orchestrator) fallback(ctx context.Context, r *round) (*types.RoundOutput, error) {
	d, err := o.fuse(ctx, r.docs, r.rc.Weights)
	if err != nil {
		return nil, err
	}
	method, err := cluster.ParseMethod(string(o.Cfg.Cluster.Method))
	if err != nil {
		return nil, err
	}
	outcome, err := cluster.Cluster(ctx, d, o.Cfg.Cluster, o.log().With("round", r.name))
	if err != nil {
		return nil, err
	}

	p := buildPartition(r.docs, outcome.Result.Labels, fusion.Project(d, vizDims))
	return &types.RoundOutput{
		Results:  p,
		Anchor:   types.LabelMap[string]{},
		Keywords: types.LabelMap[[]string]{},
		Score:    balance.New(r.band).ScorePartition(p),
		Method:   string(method),
		Fallback: true,
	}, nil
}

func (o *Orchestrator) attachKeywords(ctx context.Context, r *round, out *types.RoundOutput) {
	if o.Keywords == nil || len(out.Results.CategoryLabels()) == 0 {
		return
	}
	docs := make(map[string]types.Document, len(r.docs))
	for _, d := range r.docs {
		docs[d.Title] = d
	}
	kws, evaluation, err := o.Keywords.Generate(ctx, llm.KeywordRequest{
		Labels:  out.Results.Labels(),
		Docs:    docs,
		Weights: r.rc.KeywordWeights,
		TopN:    o.Cfg.KeywordTopN,
	})
	if err != nil {
		o.log().Warn("keyword extraction failed", "round", r.name, "error", err)
		return
	}

	out.Keywords = types.LabelMap[[]string](kws)
	out.Evaluation = evaluation
	for t, rec := range out.Results {
		if k, ok := kws[rec.Label]; ok {
			rec.Keywords = k
			out.Results[t] = rec
		}
	}
}

func (o *Orchestrator) anchorYear() int {
	if o.Cfg.AnchorYear > 0 {
		return o.Cfg.AnchorYear
	}
	return defaultAnchorYear
}

// fuse embeds every view with a positive weight and fuses the distances.
// Row i of the result is docs[i].
func (o *Orchestrator) fuse(ctx context.Context, docs []types.Document, w types.Weights) (*mat.SymDense, error) {
	dims := o.Cfg.Embedding.Dims
	if dims <= 0 {
		dims = defaultDims
	}

	views := make(map[types.View]*mat.Dense)
	var active []types.View
	for _, v := range types.Views {
		if w.For(v) > 0 {
			active = append(active, v)
		}
	}
	results := make([]*mat.Dense, len(active))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, v := range active {
		i, v := i, v
		eg.Go(func() error {
			texts := make(map[string]string, len(docs))
			for _, d := range docs {
				texts[d.Title] = d.Text(v)
			}
			embs, err := o.Embedder.Embed(egCtx, texts, embed.Options{Dims: dims})
			if err != nil {
				return fmt.Errorf("embedding %s: %w", v, err)
			}
			m, err := stack(docs, embs)
			if err != nil {
				return fmt.Errorf("embedding %s: %w", v, err)
			}
			results[i] = m
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	for i, v := range active {
		views[v] = results[i]
	}

	in := fusion.Input{Views: views}
	if w.Year > 0 {
		in.Years = make([]float64, len(docs))
		for i, d := range docs {
			in.Years[i] = float64(d.Year)
		}
	}
	d, err := fusion.Fuse(in, w)
	if err != nil {
		return nil, fmt.Errorf("fusing distances: %w", err)
	}
	return d, nil
}

// stack orders embedding vectors by document.
func stack(docs []types.Document, embs map[string]embed.Embedding) (*mat.Dense, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("no documents")
	}
	first, ok := embs[docs[0].Title]
	if !ok || len(first.Vector) == 0 {
		return nil, fmt.Errorf("no vector for %q", docs[0].Title)
	}
	m := mat.NewDense(len(docs), len(first.Vector), nil)
	for i, d := range docs {
		e, ok := embs[d.Title]
		if !ok || len(e.Vector) != len(first.Vector) {
			return nil, fmt.Errorf("missing or misshapen vector for %q", d.Title)
		}
		m.SetRow(i, e.Vector)
	}
	return m, nil
}

// withAnchors returns a fresh document list: the real documents followed by
// one synthetic document per anchor, ordered by label. The anchor text fills
// every view.
func withAnchors(docs []types.Document, anchors map[int]string, year int) []types.Document {
	out := make([]types.Document, 0, len(docs)+len(anchors))
	out = append(out, docs...)

	labels := make([]int, 0, len(anchors))
	for l := range anchors {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	for _, l := range labels {
		text := anchors[l]
		out = append(out, types.Document{
			Title:   anchor.Title(l),
			Main:    text,
			Summary: text,
			Map:     text,
			Lineage: text,
			Year:    year,
			HasYear: true,
		})
	}
	return out
}

func buildPartition(docs []types.Document, labels []int, coords *mat.Dense) types.Partition {
	p := make(types.Partition, len(docs))
	for i, d := range docs {
		p[d.Title] = types.Record{
			Coords3D: append([]float64(nil), coords.RawRowView(i)...),
			Label:    labels[i],
			Main:     d.Main,
			Summary:  d.Summary,
			Map:      d.Map,
			Lineage:  d.Lineage,
			Year:     d.Year,
		}
	}
	return p
}

func stageCounts(r anchor.Result) map[string]int {
	out := make(map[string]int)
	for s, n := range r.Counts() {
		out[s.String()] = n
	}
	return out
}
