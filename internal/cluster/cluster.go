// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cluster

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/pdiddy/litreview-engine/internal/logger"
	"github.com/pdiddy/litreview-engine/pkg/types"
)

// ErrUnknownMethod is returned for a clustering method name that has no backend.
var ErrUnknownMethod = errors.New("unknown clustering method")

// ParseMethod normalises a method name.
func ParseMethod(s string) (types.ClusterMethod, error) {
	m := types.ClusterMethod(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case types.MethodDBSCAN, types.MethodHDBSCAN, types.MethodKMeans:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q (want dbscan, hdbscan, or kmeans)", ErrUnknownMethod, s)
}

// Cluster runs the adaptive search for the configured method over d.
// DBSCAN and HDBSCAN move their radius; k-means picks K by silhouette.
func Cluster(ctx context.Context, d mat.Symmetric, cfg types.ClusterConfig, log *logger.Logger) (Outcome, error) {
	method, err := ParseMethod(string(cfg.Method))
	if err != nil {
		return Outcome{}, err
	}
	log = logger.OrNop(log).With("method", string(method))
	n := d.SymmetricDim()
	if n == 0 {
		return Outcome{}, ErrTooFewPoints
	}

	target := TargetFrom(cfg)
	s := Searcher{Target: target, MaxIterations: cfg.MaxIterations, Log: log}

	var out Outcome
	switch method {
	case types.MethodDBSCAN:
		eps := cfg.Eps
		if eps <= 0 {
			eps = 0.1
		}
		out, err = s.Search(ctx, DBSCAN{D: d, MinSamples: cfg.MinSamples}, Params{Eps: eps})

	case types.MethodHDBSCAN:
		eps := cfg.SelectionEpsilon
		if eps <= 0 {
			eps = 0.3
		}
		mcs := cfg.MinClusterSize
		if mcs <= 0 {
			mcs = max(5, n/10)
		}
		out, err = s.SearchBalanced(ctx, NewHDBSCAN(d, 0), Params{Eps: eps, MinClusterSize: mcs}, max(5, n/3))

	case types.MethodKMeans:
		var res KMeansResult
		res, err = KMeans{K: cfg.K, KPenalty: cfg.KPenalty, Seed: cfg.Seed}.Fit(d)
		if err == nil {
			state, _ := Classify(target, res.Result)
			out = Outcome{Result: res.Result, State: state}
			log.Debug("k-means fit", "k", res.ChosenK, "scores", res.Scores, "core_outliers", res.CoreOutliers, "refined", res.Refined)
		}
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("%s clustering: %w", method, err)
	}
	log.Info("clustering finished", "state", out.State.String(), "k", out.Result.K, "noise", out.Result.Noise, "iterations", out.Iterations)
	return out, nil
}

// Fixed runs the configured backend once without searching. It serves
// single-view runs where the parameters are chosen by hand.
func Fixed(d mat.Symmetric, cfg types.ClusterConfig) (Result, error) {
	method, err := ParseMethod(string(cfg.Method))
	if err != nil {
		return Result{}, err
	}
	n := d.SymmetricDim()
	if n == 0 {
		return Result{}, ErrTooFewPoints
	}
	switch method {
	case types.MethodDBSCAN:
		eps := cfg.Eps
		if eps <= 0 {
			eps = 0.5
		}
		return DBSCAN{D: d, MinSamples: cfg.MinSamples}.Run(Params{Eps: eps})
	case types.MethodHDBSCAN:
		mcs := cfg.MinClusterSize
		if mcs <= 0 {
			mcs = 3
		}
		ms := cfg.MinSamples
		if ms <= 0 {
			ms = 3
		}
		return NewHDBSCAN(d, ms).Run(Params{Eps: cfg.SelectionEpsilon, MinClusterSize: mcs})
	default:
		k := cfg.K
		if k <= 0 {
			k = 3
		}
		res, err := KMeans{K: k, KPenalty: cfg.KPenalty, Seed: cfg.Seed}.Fit(d)
		return res.Result, err
	}
}
