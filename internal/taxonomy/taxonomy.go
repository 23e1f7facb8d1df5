// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package taxonomy runs the two clustering rounds that build a two-level
// literature taxonomy. Each round asks for several candidate anchor sets,
// evaluates each candidate independently (embedding, fusion, adsorption,
// balance scoring) and keeps the best. When no candidate can be used the
// round falls back to unsupervised clustering.
package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/litreview-engine/internal/anchor"
	"github.com/pdiddy/litreview-engine/internal/balance"
	"github.com/pdiddy/litreview-engine/internal/embed"
	"github.com/pdiddy/litreview-engine/internal/llm"
	"github.com/pdiddy/litreview-engine/internal/logger"
	"github.com/pdiddy/litreview-engine/pkg/types"
)

var (
	// ErrRoundFailed wraps the cause when a round yields no partition.
	ErrRoundFailed = errors.New("round failed")

	// ErrNoCandidates is reported when every anchor candidate failed.
	ErrNoCandidates = errors.New("no usable anchor candidates")

	// ErrNoDocuments is returned when no complete document reaches a round.
	ErrNoDocuments = errors.New("no complete documents")
)

// AnchorGenerator proposes one set of category descriptions per call.
type AnchorGenerator interface {
	Generate(ctx context.Context, req llm.Request) (map[int]string, error)
}

// KeywordGenerator describes the categories of a finished partition.
type KeywordGenerator interface {
	Generate(ctx context.Context, req llm.KeywordRequest) (map[int][]string, string, error)
}

// ProgressFunc receives coarse progress updates for a round.
type ProgressFunc func(percent int, message string)

// Orchestrator runs clustering rounds. Keywords and Progress are optional.
type Orchestrator struct {
	Embedder embed.Embedder
	Anchors  AnchorGenerator
	Keywords KeywordGenerator
	Log      *logger.Logger
	Cfg      types.TaxonomyConfig
	Progress ProgressFunc
}

func (o *Orchestrator) log() *logger.Logger {
	return logger.OrNop(o.Log)
}

func (o *Orchestrator) progress(percent int, message string) {
	if o.Progress != nil {
		o.Progress(percent, message)
	}
}

// RunRound1 partitions the whole corpus into parent categories.
// Incomplete documents and anchor-titled documents are left out.
func (o *Orchestrator) RunRound1(ctx context.Context, docs []types.Document) (*types.RoundOutput, error) {
	usable := completeDocuments(docs)
	if len(usable) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrRoundFailed, ErrNoDocuments)
	}
	if dropped := len(docs) - len(usable); dropped > 0 {
		o.log().Info("documents left out of round 1", "dropped", dropped, "kept", len(usable))
	}

	rc := o.Cfg.Round1
	material, count := round1Context(usable, rc.ContextTitles)
	r := &round{
		name: "round 1",
		docs: usable,
		rc:   rc,
		band: balance.BandFrom(rc.Band, balance.Coarse),
		req: llm.Request{
			Round:            1,
			Count:            count,
			Context:          material,
			MaxChars:         rc.ContextChars,
			PaperDescription: o.Cfg.PaperDescription,
		},
		report: true,
	}
	return o.run(ctx, r)
}

// RunParent partitions the members of one round-1 category into child
// categories. The parent description comes from the parent's anchor row,
// or from the parent's anchor map when the row is absent.
func (o *Orchestrator) RunParent(ctx context.Context, parent *types.RoundOutput, label int) (*types.RoundOutput, error) {
	if parent == nil {
		return nil, fmt.Errorf("%w: no parent partition", ErrRoundFailed)
	}
	members := parent.Results.Members(label)
	docs := make([]types.Document, 0, len(members))
	for _, t := range members {
		docs = append(docs, parent.Results[t].Document(t))
	}
	usable := completeDocuments(docs)
	if len(usable) == 0 {
		return nil, fmt.Errorf("%w: parent %d: %w", ErrRoundFailed, label, ErrNoDocuments)
	}

	desc := ParentDescription(parent, label)
	if desc == "" {
		o.log().Warn("parent category has no description", "parent", label)
	}

	rc := o.Cfg.Round2
	material := round2Context(usable, desc, rc.ContextTitles)
	r := &round{
		name: fmt.Sprintf("round 2 parent %d", label),
		docs: usable,
		rc:   rc,
		band: balance.BandFrom(rc.Band, balance.Fine),
		req: llm.Request{
			Round:            2,
			Count:            len(usable),
			Context:          material,
			MaxChars:         rc.ContextChars,
			Parent:           desc,
			PaperDescription: o.Cfg.PaperDescription,
		},
	}
	return o.run(ctx, r)
}

// RunRound2 refines every parent category of a round-1 output. Parents run
// concurrently, at most Cfg.Parallelism at a time. A parent that fails is
// logged and left out; the call fails only if every parent failed.
func (o *Orchestrator) RunRound2(ctx context.Context, parent *types.RoundOutput) (types.Round2Output, error) {
	if parent == nil {
		return nil, fmt.Errorf("%w: no parent partition", ErrRoundFailed)
	}
	labels := parent.Results.CategoryLabels()
	out := make(types.Round2Output, len(labels))
	if len(labels) == 0 {
		return out, nil
	}

	parallel := o.Cfg.Parallelism
	if parallel <= 0 {
		parallel = 4
	}

	var (
		mu   sync.Mutex
		done int
		errs []error
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(parallel)
	for _, label := range labels {
		label := label
		eg.Go(func() error {
			sub, err := o.RunParent(egCtx, parent, label)
			if egCtx.Err() != nil {
				return egCtx.Err()
			}

			mu.Lock()
			defer mu.Unlock()
			done++
			if err != nil {
				o.log().Error("parent category failed", "parent", label, "error", err)
				errs = append(errs, err)
			} else {
				out[label] = *sub
			}
			o.progress(done*100/len(labels), fmt.Sprintf("parent %d finished (%d/%d)", label, done, len(labels)))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: every parent failed: %w", ErrRoundFailed, errors.Join(errs...))
	}
	return out, nil
}

// ParentDescription returns the text that defined a round-1 category.
func ParentDescription(parent *types.RoundOutput, label int) string {
	if rec, ok := parent.Results[anchor.Title(label)]; ok {
		if rec.Summary != "" {
			return rec.Summary
		}
		if rec.Main != "" {
			return rec.Main
		}
	}
	return parent.Anchor[label]
}

// completeDocuments returns the documents that carry every view and a year,
// sorted by title. Anchor titles are reserved and dropped.
func completeDocuments(docs []types.Document) []types.Document {
	out := make([]types.Document, 0, len(docs))
	for _, d := range docs {
		if d.Complete() && !types.IsAnchorTitle(d.Title) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}
