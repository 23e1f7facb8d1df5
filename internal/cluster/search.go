// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cluster

import (
	"context"
	"fmt"
	"math"

	"github.com/pdiddy/litreview-engine/internal/logger"
)

const (
	// minRadius is the floor for both the radius and the step.
	minRadius = 1e-6

	defaultMaxIterations = 500
)

// Params is the search position: the primary radius, the current step,
// and the secondary minimum cluster size used by HDBSCAN.
type Params struct {
	Eps            float64
	Step           float64
	MinClusterSize int
}

func (p Params) String() string {
	return fmt.Sprintf("eps=%.6f step=%.6f mcs=%d", p.Eps, p.Step, p.MinClusterSize)
}

// InitialStep returns 0.001, or half the radius (floored) for radii below that.
func InitialStep(eps float64) float64 {
	if eps >= 0.001 {
		return 0.001
	}
	return math.Max(eps/2, minRadius)
}

// Propose returns the trial position for a move in direction dir.
func Propose(p Params, dir int) Params {
	p.Eps = math.Max(p.Eps+float64(dir)*p.Step, minRadius)
	return p
}

// Overshoots reports whether a trial crossed the band: shrinking produced
// too many clusters or too much noise, growing collapsed below MinK.
func Overshoots(t Target, dir int, trial Result) bool {
	if dir < 0 {
		return trial.K > t.MaxK || trial.Noise > t.MaxNoise
	}
	return trial.K < t.MinK
}

// Transition is the pure step of the search. Given the current position,
// the chosen direction and the trial result, it returns the next position
// and whether the trial was accepted. An overshoot halves the step and
// keeps the radius; an accepted move keeps the step.
func Transition(t Target, p Params, dir int, trial Result) (Params, State) {
	if Overshoots(t, dir, trial) {
		p.Step = math.Max(p.Step/2, minRadius)
		return p, Overshot
	}
	return Propose(p, dir), Searching
}

// Runner runs one clustering backend at a parameter setting.
type Runner interface {
	Run(p Params) (Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(p Params) (Result, error)

// Run calls f.
func (f RunnerFunc) Run(p Params) (Result, error) { return f(p) }

// Outcome is the final position and result of a search.
type Outcome struct {
	Params     Params
	Result     Result
	State      State
	Iterations int
	// Reverted is set when the HDBSCAN balance fallback snapshot was restored.
	Reverted bool
}

// Searcher drives the step search.
type Searcher struct {
	Target        Target
	MaxIterations int
	Log           *logger.Logger
}

func (s Searcher) maxIter() int {
	if s.MaxIterations <= 0 {
		return defaultMaxIterations
	}
	return s.MaxIterations
}

// Search moves the radius until the result is in the band, the band is
// unreachable, or the iteration cap is hit. It always terminates.
func (s Searcher) Search(ctx context.Context, run Runner, start Params) (Outcome, error) {
	return s.search(ctx, run, start, 0)
}

// SearchBalanced is Search with the HDBSCAN size-balance extension: once
// the band is reached with unbalanced clusters, MinClusterSize grows by one
// (up to limit) and the same radius is re-run. The last in-band result is
// kept as a snapshot and restored if later growth leaves the band.
func (s Searcher) SearchBalanced(ctx context.Context, run Runner, start Params, limit int) (Outcome, error) {
	return s.search(ctx, run, start, limit)
}

func (s Searcher) search(ctx context.Context, run Runner, start Params, mcsLimit int) (Outcome, error) {
	log := logger.OrNop(s.Log)
	p := start
	if p.Eps <= 0 {
		p.Eps = minRadius
	}
	if p.Step <= 0 {
		p.Step = InitialStep(p.Eps)
	}

	cur, err := run.Run(p)
	if err != nil {
		return Outcome{}, fmt.Errorf("initial run (%s): %w", p, err)
	}
	log.Debug("search start", "params", p.String(), "result", cur.String())

	var snapshot *Outcome
	out := Outcome{Params: p, Result: cur, State: Searching}

	for i := 0; i < s.maxIter(); i++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out.Iterations = i + 1

		if mcsLimit > 0 && s.Target.Reached(cur) {
			if cur.Balanced() {
				snapshot = nil
				out.State = Success
				break
			}
			if p.MinClusterSize >= mcsLimit {
				log.Debug("unbalanced at size limit, accepting", "params", p.String(), "result", cur.String())
				out.State = Success
				break
			}
			snap := Outcome{Params: p, Result: cur, State: Success, Iterations: out.Iterations}
			snapshot = &snap
			p.MinClusterSize++
			cur, err = run.Run(p)
			if err != nil {
				return out, fmt.Errorf("rerun (%s): %w", p, err)
			}
			log.Debug("raised min cluster size", "params", p.String(), "result", cur.String())
			out.Params, out.Result = p, cur
			continue
		}

		state, dir := Classify(s.Target, cur)
		if state.Terminal() {
			out.State = state
			break
		}

		trialParams := Propose(p, dir)
		if trialParams.Eps == p.Eps {
			log.Debug("radius pinned at floor, stopping", "params", p.String())
			out.State = Conflict
			break
		}
		trial, err := run.Run(trialParams)
		if err != nil {
			return out, fmt.Errorf("trial run (%s): %w", trialParams, err)
		}

		stepBefore := p.Step
		next, st := Transition(s.Target, p, dir, trial)
		if st == Overshot {
			log.Debug("overshot", "trial", trialParams.String(), "result", trial.String(), "step", next.Step)
			if stepBefore <= minRadius {
				// Step floor reached: further trials repeat this one.
				out.State = Conflict
				p = next
				out.Params = p
				break
			}
		} else {
			cur = trial
			log.Debug("accepted", "params", next.String(), "result", cur.String())
		}
		p = next
		out.Params, out.Result, out.State = p, cur, st
	}

	if snapshot != nil && !s.Target.Reached(out.Result) {
		log.Debug("restoring balanced snapshot", "params", snapshot.Params.String())
		iters := out.Iterations
		out = *snapshot
		out.Iterations = iters
		out.Reverted = true
	}
	if out.State == Overshot {
		out.State = Searching
	}
	return out, nil
}
