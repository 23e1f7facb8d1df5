// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cluster

import (
	"errors"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/pdiddy/litreview-engine/internal/fusion"
	"github.com/pdiddy/litreview-engine/pkg/types"
)

// ErrTooFewPoints is returned when there is nothing to cluster.
var ErrTooFewPoints = errors.New("too few points for k-means")

// KMeans is the centroid backend. It projects the dissimilarity matrix into
// Dims Euclidean dimensions, picks K by penalised silhouette unless K is
// fixed, then refines centroids on the IQR core of each cluster.
type KMeans struct {
	// K fixes the cluster count; zero searches 2..min(9,N)-1.
	K int
	// KPenalty is subtracted from the silhouette per cluster.
	KPenalty float64
	// Dims is the projection dimension (default 10).
	Dims int
	// Seed fixes initialisation (default 42).
	Seed int64
	// NInit is the number of k-means++ restarts per fit (default 10).
	NInit int
	// MaxIterations caps Lloyd iterations per restart (default 300).
	MaxIterations int
	// Tolerance stops Lloyd when centroids move less than this (default 1e-4).
	Tolerance float64
}

// KMeansResult carries the labels and the diagnostics of a fit.
type KMeansResult struct {
	Result
	// ChosenK is the cluster count used by the final fit.
	ChosenK int
	// Scores maps each searched K to its penalised silhouette.
	Scores map[int]float64
	// CoreOutliers counts points left out of the second pass.
	CoreOutliers int
	// Refined is false when too few core points remained and pass-one
	// labels were kept.
	Refined bool
}

func (km KMeans) withDefaults() KMeans {
	if km.Dims <= 0 {
		km.Dims = 10
	}
	if km.Seed == 0 {
		km.Seed = 42
	}
	if km.NInit <= 0 {
		km.NInit = 10
	}
	if km.MaxIterations <= 0 {
		km.MaxIterations = 300
	}
	if km.Tolerance <= 0 {
		km.Tolerance = 1e-4
	}
	return km
}

// Fit clusters the dissimilarity matrix d.
func (km KMeans) Fit(d mat.Symmetric) (KMeansResult, error) {
	km = km.withDefaults()
	n := d.SymmetricDim()
	if n == 0 {
		return KMeansResult{}, ErrTooFewPoints
	}

	coords := fusion.Project(d, km.Dims)
	points := make([][]float64, n)
	for i := 0; i < n; i++ {
		points[i] = coords.RawRowView(i)
	}

	out := KMeansResult{Scores: make(map[int]float64)}
	k := km.K
	if k <= 0 {
		k = 3
		best := -100.0
		for cand := 2; cand < min(9, n); cand++ {
			labels, _ := km.fit(points, cand)
			sil, ok := Silhouette(points, labels)
			if !ok {
				continue
			}
			adjusted := sil - float64(cand)*km.KPenalty
			out.Scores[cand] = adjusted
			if adjusted > best {
				best = adjusted
				k = cand
			}
		}
	}
	if k > n {
		k = n
	}
	out.ChosenK = k

	labels1, centers1 := km.fit(points, k)
	core := make([]bool, n)
	for i := range core {
		core[i] = true
	}
	dists := centroidDistances(points, labels1, centers1)
	for c := 0; c < k; c++ {
		members := membersOf(labels1, c)
		if len(members) < 2 {
			continue
		}
		fence := UpperFence(pick(dists, members))
		for _, i := range members {
			if dists[i] > fence {
				core[i] = false
				out.CoreOutliers++
			}
		}
	}

	var corePoints [][]float64
	for i, ok := range core {
		if ok {
			corePoints = append(corePoints, points[i])
		}
	}
	if len(corePoints) < k {
		out.Result = Summarize(labels1)
		return out, nil
	}

	_, centers2 := km.fit(corePoints, k)
	final := make([]int, n)
	for i, p := range points {
		final[i], _ = nearest(p, centers2)
	}
	newDists := centroidDistances(points, final, centers2)
	labels := append([]int(nil), final...)
	for c := 0; c < k; c++ {
		members := membersOf(final, c)
		if len(members) == 0 {
			continue
		}
		fence := UpperFence(pick(newDists, members))
		for _, i := range members {
			if newDists[i] > fence {
				labels[i] = types.NoiseLabel
			}
		}
	}
	out.Refined = true
	out.Result = Summarize(labels)
	return out, nil
}

// fit runs NInit seeded k-means++ restarts and keeps the lowest inertia.
func (km KMeans) fit(points [][]float64, k int) ([]int, [][]float64) {
	rng := rand.New(rand.NewSource(km.Seed))
	var (
		bestLabels  []int
		bestCenters [][]float64
		bestInertia = math.Inf(1)
	)
	for run := 0; run < km.NInit; run++ {
		labels, centers, inertia := lloyd(points, k, rng, km.MaxIterations, km.Tolerance)
		if inertia < bestInertia {
			bestLabels, bestCenters, bestInertia = labels, centers, inertia
		}
	}
	return bestLabels, bestCenters
}

// lloyd runs one k-means++ initialised Lloyd loop.
func lloyd(points [][]float64, k int, rng *rand.Rand, maxIter int, tol float64) ([]int, [][]float64, float64) {
	centers := seedPlusPlus(points, k, rng)
	labels := make([]int, len(points))
	dim := len(points[0])

	for it := 0; it < maxIter; it++ {
		for i, p := range points {
			labels[i], _ = nearest(p, centers)
		}

		next := make([][]float64, k)
		counts := make([]int, k)
		for c := range next {
			next[c] = make([]float64, dim)
		}
		for i, p := range points {
			floats.Add(next[labels[i]], p)
			counts[labels[i]]++
		}
		shift := 0.0
		for c := range next {
			if counts[c] == 0 {
				// Empty cluster keeps its previous centroid.
				copy(next[c], centers[c])
			} else {
				floats.Scale(1/float64(counts[c]), next[c])
			}
			shift += floats.Distance(next[c], centers[c], 2)
		}
		centers = next
		if shift < tol {
			break
		}
	}

	inertia := 0.0
	for i, p := range points {
		var d float64
		labels[i], d = nearest(p, centers)
		inertia += d * d
	}
	return labels, centers, inertia
}

// seedPlusPlus picks k initial centroids with probability proportional to
// the squared distance from the centroids already chosen.
func seedPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	centers := make([][]float64, 0, k)
	centers = append(centers, append([]float64(nil), points[rng.Intn(n)]...))

	d2 := make([]float64, n)
	for len(centers) < k {
		total := 0.0
		for i, p := range points {
			_, d := nearest(p, centers)
			d2[i] = d * d
			total += d2[i]
		}
		idx := rng.Intn(n)
		if total > 0 {
			target := rng.Float64() * total
			acc := 0.0
			for i, v := range d2 {
				acc += v
				if acc >= target {
					idx = i
					break
				}
			}
		}
		centers = append(centers, append([]float64(nil), points[idx]...))
	}
	return centers
}

func nearest(p []float64, centers [][]float64) (int, float64) {
	best, bestDist := 0, math.Inf(1)
	for c, center := range centers {
		if d := floats.Distance(p, center, 2); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, bestDist
}

func centroidDistances(points [][]float64, labels []int, centers [][]float64) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = floats.Distance(p, centers[labels[i]], 2)
	}
	return out
}

func membersOf(labels []int, c int) []int {
	var out []int
	for i, l := range labels {
		if l == c {
			out = append(out, i)
		}
	}
	return out
}

func pick(x []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = x[j]
	}
	return out
}

// Silhouette returns the mean silhouette coefficient of a labelling. Points
// alone in their cluster score zero. It reports false when the labelling
// has fewer than two clusters or every point is its own cluster.
func Silhouette(points [][]float64, labels []int) (float64, bool) {
	n := len(points)
	groups := make(map[int][]int)
	for i, l := range labels {
		groups[l] = append(groups[l], i)
	}
	if len(groups) < 2 || len(groups) >= n {
		return 0, false
	}

	total := 0.0
	for i, p := range points {
		own := groups[labels[i]]
		if len(own) == 1 {
			continue
		}
		a := 0.0
		for _, j := range own {
			if j != i {
				a += floats.Distance(p, points[j], 2)
			}
		}
		a /= float64(len(own) - 1)

		b := math.Inf(1)
		for l, members := range groups {
			if l == labels[i] {
				continue
			}
			sum := 0.0
			for _, j := range members {
				sum += floats.Distance(p, points[j], 2)
			}
			b = math.Min(b, sum/float64(len(members)))
		}
		if m := math.Max(a, b); m > 0 {
			total += (b - a) / m
		}
	}
	return total / float64(n), true
}
