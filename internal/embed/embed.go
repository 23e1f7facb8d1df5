// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package embed turns section texts into vectors for distance fusion. A
// Vectorizer produces raw vectors; the Engine normalises them, reduces them
// with PCA, derives 3-d visualization coordinates and, in single-view mode,
// clusters the reduced vectors.
package embed

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/pdiddy/litreview-engine/internal/cluster"
	"github.com/pdiddy/litreview-engine/internal/logger"
	"github.com/pdiddy/litreview-engine/pkg/types"
)

const vizDims = 3

// Options controls one embedding run.
type Options struct {
	// Dims is the target dimension after reduction (default 20).
	Dims int
	// Method, when set, clusters the reduced vectors with that backend.
	Method types.ClusterMethod
	// Cluster holds the backend parameters used with Method.
	Cluster types.ClusterConfig
}

// Embedding is one document's vectors.
type Embedding struct {
	Vector []float64
	Viz    []float64
	// Label is the single-view cluster label, or -1 when no method was set.
	Label int
}

// Embedder maps titled texts to embeddings.
type Embedder interface {
	Embed(ctx context.Context, texts map[string]string, opts Options) (map[string]Embedding, error)
}

// Vectorizer produces one raw vector per text, in input order.
type Vectorizer interface {
	Vectorize(ctx context.Context, texts []string) (*mat.Dense, error)
}

// Engine is the Embedder shared by every Vectorizer.
type Engine struct {
	Vectorizer Vectorizer
	Log        *logger.Logger
}

// New builds an Engine for the configured backend.
func New(cfg types.EmbeddingConfig, log *logger.Logger) (*Engine, error) {
	switch cfg.Backend {
	case "", types.EmbeddingHashing:
		return &Engine{Vectorizer: HashingVectorizer{Features: cfg.Features}, Log: log}, nil
	case types.EmbeddingHTTP:
		if cfg.BaseURL == "" || cfg.Model == "" {
			return nil, fmt.Errorf("http embedding backend needs base_url and model")
		}
		return &Engine{Vectorizer: &HTTPVectorizer{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			BatchSize: cfg.BatchSize,
		}, Log: log}, nil
	}
	return nil, fmt.Errorf("unknown embedding backend %q", cfg.Backend)
}

// Embed implements Embedder. Titles are processed in sorted order so a run
// is reproducible.
func (e *Engine) Embed(ctx context.Context, texts map[string]string, opts Options) (map[string]Embedding, error) {
	if len(texts) == 0 {
		return map[string]Embedding{}, nil
	}
	dims := opts.Dims
	if dims <= 0 {
		dims = 20
	}

	titles := make([]string, 0, len(texts))
	for t := range texts {
		titles = append(titles, t)
	}
	sort.Strings(titles)
	inputs := make([]string, len(titles))
	for i, t := range titles {
		inputs[i] = texts[t]
	}

	raw, err := e.Vectorizer.Vectorize(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("vectorizing %d texts: %w", len(inputs), err)
	}
	if r, _ := raw.Dims(); r != len(inputs) {
		return nil, fmt.Errorf("vectorizer returned %d rows for %d texts", r, len(inputs))
	}
	normalizeRows(raw)

	n := len(titles)
	reduced := raw
	if n > dims {
		reduced = PCA(raw, SafeDims(dims, n))
	}
	viz := PCA(raw, vizDims)

	labels := make([]int, n)
	for i := range labels {
		labels[i] = types.NoiseLabel
	}
	if opts.Method != "" {
		cfg := opts.Cluster
		cfg.Method = opts.Method
		res, err := cluster.Fixed(euclidean(reduced), cfg)
		if err != nil {
			return nil, fmt.Errorf("single-view clustering: %w", err)
		}
		labels = res.Labels
	}

	_, cols := reduced.Dims()
	logger.OrNop(e.Log).Debug("embedded texts", "count", n, "dims", cols, "method", string(opts.Method))

	out := make(map[string]Embedding, n)
	for i, t := range titles {
		out[t] = Embedding{
			Vector: append([]float64(nil), reduced.RawRowView(i)...),
			Viz:    append([]float64(nil), viz.RawRowView(i)...),
			Label:  labels[i],
		}
	}
	return out, nil
}

// SafeDims keeps the reduction target below the sample count: min(dims, n-2)
// for n > 2, else min(dims, n).
func SafeDims(dims, n int) int {
	if n > 2 {
		return max(min(dims, n-2), 1)
	}
	return max(min(dims, n), 1)
}

// PCA projects the rows of x onto their top dims principal components. The
// result always has dims columns; components the data cannot support are
// zero. Each component's sign makes its largest-magnitude score positive.
func PCA(x *mat.Dense, dims int) *mat.Dense {
	n, d := x.Dims()
	out := mat.NewDense(n, dims, nil)
	if n == 0 {
		return out
	}

	c := mat.NewDense(n, d, nil)
	c.Copy(x)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, c)
		mean := floats.Sum(col) / float64(n)
		for i := 0; i < n; i++ {
			c.Set(i, j, col[i]-mean)
		}
	}

	var svd mat.SVD
	if !svd.Factorize(c, mat.SVDThin) {
		return out
	}
	var v mat.Dense
	svd.VTo(&v)
	values := svd.Values(nil)

	k := 0
	for k < dims && k < len(values) && values[k] > 1e-10 {
		k++
	}
	if k == 0 {
		return out
	}

	var proj mat.Dense
	proj.Mul(c, v.Slice(0, d, 0, k))
	for j := 0; j < k; j++ {
		mat.Col(col, j, &proj)
		sign := 1.0
		if col[floats.MaxIdx(absAll(col))] < 0 {
			sign = -1
		}
		for i := 0; i < n; i++ {
			out.Set(i, j, sign*col[i])
		}
	}
	return out
}

func absAll(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Abs(v)
	}
	return out
}

func normalizeRows(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		if norm := floats.Norm(row, 2); norm > 0 {
			floats.Scale(1/norm, row)
		}
	}
}

func euclidean(m *mat.Dense) *mat.SymDense {
	n, _ := m.Dims()
	d := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d.SetSym(i, j, floats.Distance(m.RawRowView(i), m.RawRowView(j), 2))
		}
	}
	return d
}
