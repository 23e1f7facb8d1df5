package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/litreview-engine/internal/cluster"
	"github.com/pdiddy/litreview-engine/internal/embed"
	"github.com/pdiddy/litreview-engine/internal/llm"
	"github.com/pdiddy/litreview-engine/pkg/types"
)

var topics = []string{"alpha", "beta", "gamma", "one", "two"}

// topicEmbedder maps each text onto one axis per topic word plus a small
// per-title jitter axis. It records the anchor texts seen by every call.
type topicEmbedder struct {
	mu      sync.Mutex
	anchors [][]string
}

func (e *topicEmbedder) Embed(_ context.Context, texts map[string]string, _ embed.Options) (map[string]embed.Embedding, error) {
	out := make(map[string]embed.Embedding, len(texts))
	var seen []string
	for title, text := range texts {
		v := make([]float64, len(topics)+1)
		for i, w := range topics {
			if strings.Contains(text, w) {
				v[i] = 1
			}
		}
		if types.IsAnchorTitle(title) {
			seen = append(seen, text)
		} else {
			h := fnv.New32a()
			h.Write([]byte(title))
			v[len(topics)] = float64(h.Sum32()%7) * 0.02
		}
		out[title] = embed.Embedding{Vector: v}
	}
	e.mu.Lock()
	e.anchors = append(e.anchors, seen)
	e.mu.Unlock()
	return out, nil
}

func corpus() []types.Document {
	var docs []types.Document
	add := func(title, text string) {
		docs = append(docs, types.Document{
			Title: title, Main: text, Summary: text, Map: text, Lineage: text,
			Review: text + " reviewed", Year: 2020, HasYear: true,
		})
	}
	for i := 0; i < 10; i++ {
		sub := "one"
		if i%2 == 1 {
			sub = "two"
		}
		add(fmt.Sprintf("alpha paper %02d", i), "alpha "+sub+" study")
		add(fmt.Sprintf("beta paper %02d", i), "beta study")
		add(fmt.Sprintf("gamma paper %02d", i), "gamma study")
	}
	return docs
}

func testConfig() types.TaxonomyConfig {
	cfg := types.DefaultTaxonomyConfig()
	// Round 1 keeps the default weights; round 2 drops the year axis.
	cfg.Round2.Weights = types.Weights{Main: 0.25, Summary: 0.25, Map: 0.25, Lineage: 0.25}
	cfg.Round1.Band = types.BandConfig{Min: 5, Max: 15}
	cfg.Round2.Band = types.BandConfig{Min: 5, Max: 15}
	return cfg
}

// anchorSource hands out anchor sets in call order.
type anchorSource struct {
	mu    sync.Mutex
	sets  []map[int]string
	calls int
	reqs  []llm.Request
	err   error
}

func (a *anchorSource) Generate(_ context.Context, req llm.Request) (map[int]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reqs = append(a.reqs, req)
	if a.err != nil {
		return nil, a.err
	}
	set := a.sets[a.calls%len(a.sets)]
	a.calls++
	return set, nil
}

type keywordSource struct {
	mu   sync.Mutex
	reqs []llm.KeywordRequest
	err  error
}

func (k *keywordSource) Generate(_ context.Context, req llm.KeywordRequest) (map[int][]string, string, error) {
	k.mu.Lock()
	k.reqs = append(k.reqs, req)
	k.mu.Unlock()
	if k.err != nil {
		return nil, "", k.err
	}
	return map[int][]string{0: {"a1", "a2"}, 1: {"b1"}, 2: {"c1"}}, "distinct", nil
}

var (
	goodSet  = map[int]string{0: "alpha", 1: "beta", 2: "gamma"}
	worseSet = map[int]string{0: "alpha beta", 1: "gamma"}
)

func groupOf(title string) int {
	switch {
	case strings.HasPrefix(title, "alpha"):
		return 0
	case strings.HasPrefix(title, "beta"):
		return 1
	}
	return 2
}

func TestRunRound1PicksBestCandidate(t *testing.T) {
	emb := &topicEmbedder{}
	gen := &anchorSource{sets: []map[int]string{worseSet, goodSet, worseSet}}
	kw := &keywordSource{}
	var progress []int
	var mu sync.Mutex
	o := &Orchestrator{
		Embedder: emb,
		Anchors:  gen,
		Keywords: kw,
		Cfg:      testConfig(),
		Progress: func(p int, _ string) {
			mu.Lock()
			progress = append(progress, p)
			mu.Unlock()
		},
	}

	out, err := o.RunRound1(context.Background(), corpus())
	require.NoError(t, err)

	assert.Equal(t, MethodAnchor, out.Method)
	assert.False(t, out.Fallback)
	assert.Equal(t, types.LabelMap[string](goodSet), out.Anchor)
	assert.InDelta(t, 0, out.Score, 1e-9)
	assert.Len(t, out.Results, 33)
	for title, rec := range out.Results {
		assert.Len(t, rec.Coords3D, 3, title)
		if types.IsAnchorTitle(title) {
			assert.Equal(t, 2025, rec.Year)
			continue
		}
		assert.Equal(t, groupOf(title), rec.Label, title)
	}
	assert.Equal(t, map[int]int{0: 10, 1: 10, 2: 10}, out.Results.Sizes())

	assert.Equal(t, "distinct", out.Evaluation)
	assert.Equal(t, []string{"a1", "a2"}, out.Results["alpha paper 00"].Keywords)
	assert.Equal(t, []string{"b1"}, out.Keywords[1])
	require.Len(t, kw.reqs, 1)
	assert.Len(t, kw.reqs[0].Docs, 30)

	require.Len(t, gen.reqs, 3)
	assert.Equal(t, 1, gen.reqs[0].Round)
	assert.Equal(t, 30, gen.reqs[0].Count)
	assert.Contains(t, gen.reqs[0].Context, "《alpha paper 00》")

	// Every embedding call sees the anchors of one candidate only.
	allowed := []string{"alpha|beta|gamma", "alpha beta|gamma"}
	for _, seen := range emb.anchors {
		sort.Strings(seen)
		assert.Contains(t, allowed, strings.Join(seen, "|"), "anchors leaked between candidates")
	}

	require.NotEmpty(t, progress)
	assert.Equal(t, 100, progress[len(progress)-1])
}

func TestRunRound1Fallback(t *testing.T) {
	o := &Orchestrator{
		Embedder: &topicEmbedder{},
		Anchors:  &anchorSource{err: llm.ErrMalformed},
		Cfg:      testConfig(),
	}

	out, err := o.RunRound1(context.Background(), corpus())
	require.NoError(t, err)
	assert.True(t, out.Fallback)
	assert.Equal(t, "kmeans", out.Method)
	assert.Empty(t, out.Anchor)
	assert.Len(t, out.Results, 30)
	assert.GreaterOrEqual(t, len(out.Results.CategoryLabels()), 2)
	for title := range out.Results {
		assert.False(t, types.IsAnchorTitle(title))
	}
}

func TestRunRound1Failures(t *testing.T) {
	t.Run("no documents", func(t *testing.T) {
		o := &Orchestrator{Embedder: &topicEmbedder{}, Cfg: testConfig()}
		docs := []types.Document{{Title: "incomplete", Main: "x"}}
		_, err := o.RunRound1(context.Background(), docs)
		assert.ErrorIs(t, err, ErrRoundFailed)
		assert.ErrorIs(t, err, ErrNoDocuments)
	})

	t.Run("fallback method unknown", func(t *testing.T) {
		cfg := testConfig()
		cfg.Cluster.Method = "bogus"
		o := &Orchestrator{
			Embedder: &topicEmbedder{},
			Anchors:  &anchorSource{err: errors.New("down")},
			Cfg:      cfg,
		}
		_, err := o.RunRound1(context.Background(), corpus())
		assert.ErrorIs(t, err, ErrRoundFailed)
		assert.ErrorIs(t, err, cluster.ErrUnknownMethod)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		o := &Orchestrator{
			Embedder: &topicEmbedder{},
			Anchors:  &anchorSource{sets: []map[int]string{goodSet}},
			Cfg:      testConfig(),
		}
		_, err := o.RunRound1(ctx, corpus())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRunRound1KeywordFailureIsNotFatal(t *testing.T) {
	o := &Orchestrator{
		Embedder: &topicEmbedder{},
		Anchors:  &anchorSource{sets: []map[int]string{goodSet}},
		Keywords: &keywordSource{err: errors.New("quota")},
		Cfg:      testConfig(),
	}
	out, err := o.RunRound1(context.Background(), corpus())
	require.NoError(t, err)
	assert.Empty(t, out.Keywords)
	assert.Empty(t, out.Results["beta paper 01"].Keywords)
}

// parentOutput is a round-1 result with alpha papers under 0 and beta
// papers under 1.
func parentOutput() *types.RoundOutput {
	p := types.Partition{}
	for _, d := range corpus() {
		label := groupOf(d.Title)
		if label == 2 {
			continue
		}
		p[d.Title] = types.Record{Label: label, Main: d.Main, Summary: d.Summary, Map: d.Map, Lineage: d.Lineage, Year: d.Year}
	}
	p["__ANCHOR_0__"] = types.Record{Label: 0, Main: "alpha", Summary: "alpha", Year: 2025}
	p["__ANCHOR_1__"] = types.Record{Label: 1, Main: "beta", Summary: "beta", Year: 2025}
	return &types.RoundOutput{
		Results: p,
		Anchor:  types.LabelMap[string]{0: "alpha", 1: "beta"},
	}
}

type parentAnchors struct {
	mu   sync.Mutex
	reqs []llm.Request
}

func (p *parentAnchors) Generate(_ context.Context, req llm.Request) (map[int]string, error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()
	if req.Parent == "alpha" {
		return map[int]string{0: "alpha one", 1: "alpha two"}, nil
	}
	return nil, errors.New("no anchors")
}

func TestRunRound2(t *testing.T) {
	cfg := testConfig()
	cfg.Cluster.Method = "bogus"
	gen := &parentAnchors{}
	o := &Orchestrator{Embedder: &topicEmbedder{}, Anchors: gen, Cfg: cfg}

	out, err := o.RunRound2(context.Background(), parentOutput())
	require.NoError(t, err)
	require.Len(t, out, 1, "the beta parent fails and is skipped")

	sub := out[0]
	assert.Equal(t, MethodAnchor, sub.Method)
	assert.Equal(t, map[int]int{0: 5, 1: 5}, sub.Results.Sizes())
	for i := 0; i < 10; i++ {
		title := fmt.Sprintf("alpha paper %02d", i)
		assert.Equal(t, i%2, sub.Results[title].Label, title)
	}

	for _, req := range gen.reqs {
		assert.Equal(t, 2, req.Round)
		if req.Parent == "alpha" {
			assert.Equal(t, 10, req.Count)
			assert.True(t, strings.HasPrefix(req.Context, "【所属父类别(背景)】: alpha"))
		}
	}
}

func TestRunRound2AllParentsFail(t *testing.T) {
	cfg := testConfig()
	cfg.Cluster.Method = "bogus"
	o := &Orchestrator{
		Embedder: &topicEmbedder{},
		Anchors:  &anchorSource{err: errors.New("down")},
		Cfg:      cfg,
	}
	_, err := o.RunRound2(context.Background(), parentOutput())
	assert.ErrorIs(t, err, ErrRoundFailed)
}

func TestParentDescription(t *testing.T) {
	parent := parentOutput()
	assert.Equal(t, "alpha", ParentDescription(parent, 0))

	delete(parent.Results, "__ANCHOR_1__")
	parent.Anchor[1] = "from map"
	assert.Equal(t, "from map", ParentDescription(parent, 1))
	assert.Empty(t, ParentDescription(parent, 7))
}

func TestSelectBest(t *testing.T) {
	c := func(i int, s float64) *candidate { return &candidate{index: i, score: s} }
	tests := []struct {
		name  string
		cands []*candidate
		want  int
	}{
		{"empty", nil, -1},
		{"all nil", []*candidate{nil, nil}, -1},
		{"lowest wins", []*candidate{c(0, 3), c(1, 1), c(2, 2)}, 1},
		{"ties keep earliest", []*candidate{nil, c(1, 2), c(2, 2)}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectBest(tt.cands)
			if tt.want < 0 {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.index)
		})
	}
}

func TestWithAnchors(t *testing.T) {
	docs := corpus()[:2]
	out := withAnchors(docs, map[int]string{2: "late", 0: "early"}, 2025)
	require.Len(t, out, 4)
	assert.Equal(t, "__ANCHOR_0__", out[2].Title)
	assert.Equal(t, "__ANCHOR_2__", out[3].Title)
	for _, v := range types.Views {
		assert.Equal(t, "early", out[2].Text(v))
	}
	assert.True(t, out[2].Complete())
	assert.Len(t, docs, 2)
}

func TestCompleteDocuments(t *testing.T) {
	docs := corpus()
	docs = append(docs,
		types.Document{Title: "__ANCHOR_3__", Main: "a", Summary: "a", Map: "a", Lineage: "a", Year: 2025, HasYear: true},
		types.Document{Title: "no year", Main: "a", Summary: "a", Map: "a", Lineage: "a"},
	)
	out := completeDocuments(docs)
	assert.Len(t, out, 30)
	assert.Equal(t, "alpha paper 00", out[0].Title)
	assert.Equal(t, "gamma paper 09", out[len(out)-1].Title)
}
