package cluster

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/pdiddy/litreview-engine/pkg/types"
)

// euclidean builds the pairwise distance matrix of points.
func euclidean(t *testing.T, points [][]float64) *mat.SymDense {
	t.Helper()
	n := len(points)
	d := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d.SetSym(i, j, floats.Distance(points[i], points[j], 2))
		}
	}
	return d
}

// twoBlobs returns two tight groups of six points on a line plus, when
// withOutlier is set, one far point at index 12.
func twoBlobs(t *testing.T, withOutlier bool) *mat.SymDense {
	t.Helper()
	var pts [][]float64
	for _, base := range []float64{0, 1} {
		for i := 0; i < 6; i++ {
			pts = append(pts, []float64{base + float64(i)*0.01})
		}
	}
	if withOutlier {
		pts = append(pts, []float64{10})
	}
	return euclidean(t, pts)
}

// uniform returns n points that are all dist apart.
func uniform(n int, dist float64) *mat.SymDense {
	d := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d.SetSym(i, j, dist)
		}
	}
	return d
}

func assertTwoGroups(t *testing.T, labels []int) {
	t.Helper()
	require.Len(t, labels, 13)
	for i := 1; i < 6; i++ {
		assert.Equal(t, labels[0], labels[i])
		assert.Equal(t, labels[6], labels[6+i])
	}
	assert.NotEqual(t, labels[0], labels[6])
	assert.NotEqual(t, types.NoiseLabel, labels[0])
	assert.NotEqual(t, types.NoiseLabel, labels[6])
	assert.Equal(t, types.NoiseLabel, labels[12])
}

func TestDBSCAN(t *testing.T) {
	d := twoBlobs(t, true)

	res, err := DBSCAN{D: d, MinSamples: 3}.Run(Params{Eps: 0.05})
	require.NoError(t, err)
	assert.Equal(t, 2, res.K)
	assertTwoGroups(t, res.Labels)
	assert.Equal(t, []int{0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 1, 1, -1}, res.Labels)

	res, err = DBSCAN{D: d}.Run(Params{Eps: 100})
	require.NoError(t, err)
	assert.Equal(t, 1, res.K)
	assert.Zero(t, res.Noise)

	res, err = DBSCAN{D: d}.Run(Params{Eps: 0.001})
	require.NoError(t, err)
	assert.Equal(t, 0, res.K)
	assert.Equal(t, 1.0, res.Noise)
}

func TestHDBSCAN(t *testing.T) {
	d := twoBlobs(t, true)

	tests := []struct {
		name string
		eps  float64
	}{
		{"plain selection", 0},
		{"epsilon below birth", 0.3},
		{"epsilon above birth keeps leaves under root", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewHDBSCAN(d, 3).Run(Params{Eps: tt.eps, MinClusterSize: 3})
			require.NoError(t, err)
			assert.Equal(t, 2, res.K)
			assertTwoGroups(t, res.Labels)
		})
	}
}

func TestHDBSCANTooLargeMinClusterSize(t *testing.T) {
	res, err := NewHDBSCAN(twoBlobs(t, false), 3).Run(Params{MinClusterSize: 7})
	require.NoError(t, err)
	assert.Equal(t, 0, res.K)
	assert.Equal(t, 1.0, res.Noise)
}

// threeBlobs places eight points around each of three far-apart centres.
func threeBlobs(t *testing.T) *mat.SymDense {
	t.Helper()
	offsets := [][]float64{
		{0.3, 0.3}, {0.3, -0.3}, {-0.3, 0.3}, {-0.3, -0.3},
		{0.5, 0}, {-0.5, 0}, {0, 0.5}, {0, -0.5},
	}
	var pts [][]float64
	for _, c := range [][]float64{{0, 0}, {10, 0}, {0, 10}} {
		for _, o := range offsets {
			pts = append(pts, []float64{c[0] + o[0], c[1] + o[1]})
		}
	}
	return euclidean(t, pts)
}

func TestKMeansChoosesK(t *testing.T) {
	res, err := KMeans{KPenalty: 0.02}.Fit(threeBlobs(t))
	require.NoError(t, err)
	assert.Equal(t, 3, res.ChosenK)
	assert.Equal(t, 3, res.K)
	assert.Zero(t, res.Noise)
	assert.True(t, res.Refined)
	assert.Greater(t, res.Scores[3], res.Scores[2])
	assert.Greater(t, res.Scores[3], res.Scores[4])

	for b := 0; b < 3; b++ {
		for i := 1; i < 8; i++ {
			assert.Equal(t, res.Labels[b*8], res.Labels[b*8+i])
		}
	}
	assert.NotEqual(t, res.Labels[0], res.Labels[8])
	assert.NotEqual(t, res.Labels[0], res.Labels[16])
	assert.NotEqual(t, res.Labels[8], res.Labels[16])
}

func TestKMeansFixedKIsDeterministic(t *testing.T) {
	d := threeBlobs(t)
	a, err := KMeans{K: 2}.Fit(d)
	require.NoError(t, err)
	b, err := KMeans{K: 2}.Fit(d)
	require.NoError(t, err)

	assert.Equal(t, 2, a.ChosenK)
	assert.Empty(t, a.Scores)
	assert.Equal(t, a.Labels, b.Labels)
}

// emptySym is a zero-sized symmetric matrix; gonum refuses to allocate one.
type emptySym struct{}

func (emptySym) Dims() (int, int)    { return 0, 0 }
func (emptySym) At(i, j int) float64 { panic("empty") }
func (e emptySym) T() mat.Matrix     { return e }
func (emptySym) SymmetricDim() int   { return 0 }

func TestEmptyInput(t *testing.T) {
	_, err := KMeans{}.Fit(emptySym{})
	assert.ErrorIs(t, err, ErrTooFewPoints)

	_, err = Cluster(context.Background(), emptySym{}, types.DefaultTaxonomyConfig().Cluster, nil)
	assert.ErrorIs(t, err, ErrTooFewPoints)
}

func TestPercentile(t *testing.T) {
	x := []float64{4, 1, 3, 2}
	tests := []struct {
		q    float64
		want float64
	}{
		{0, 1},
		{25, 1.75},
		{50, 2.5},
		{75, 3.25},
		{100, 4},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Percentile(x, tt.q), 1e-12, "q=%v", tt.q)
	}
	assert.Equal(t, []float64{4, 1, 3, 2}, x, "input must not be reordered")
	assert.InDelta(t, 5.5, UpperFence(x), 1e-12)
	assert.True(t, math.IsNaN(Percentile(nil, 50)))
}

func TestSilhouette(t *testing.T) {
	points := [][]float64{{0}, {0.1}, {10}, {10.1}}

	s, ok := Silhouette(points, []int{0, 0, 1, 1})
	require.True(t, ok)
	assert.Greater(t, s, 0.95)

	s, ok = Silhouette(points, []int{0, 1, 0, 1})
	require.True(t, ok)
	assert.Less(t, s, 0.0)

	_, ok = Silhouette(points, []int{0, 0, 0, 0})
	assert.False(t, ok)
	_, ok = Silhouette(points, []int{0, 1, 2, 3})
	assert.False(t, ok)
}

func TestClusterDispatch(t *testing.T) {
	ctx := context.Background()
	cfg := types.DefaultTaxonomyConfig().Cluster

	t.Run("dbscan", func(t *testing.T) {
		cfg := cfg
		cfg.Method = types.MethodDBSCAN
		out, err := Cluster(ctx, twoBlobs(t, true), cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, Success, out.State)
		assertTwoGroups(t, out.Result.Labels)
	})

	t.Run("hdbscan", func(t *testing.T) {
		cfg := cfg
		cfg.Method = types.MethodHDBSCAN
		out, err := Cluster(ctx, twoBlobs(t, true), cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, Success, out.State)
		assertTwoGroups(t, out.Result.Labels)
	})

	t.Run("kmeans", func(t *testing.T) {
		cfg := cfg
		cfg.Method = types.MethodKMeans
		out, err := Cluster(ctx, threeBlobs(t), cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, Success, out.State)
		assert.Equal(t, 3, out.Result.K)
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := cfg
		cfg.Method = "spectral"
		_, err := Cluster(ctx, twoBlobs(t, true), cfg, nil)
		assert.ErrorIs(t, err, ErrUnknownMethod)
	})
}

func TestClusterSingleCategoryConflict(t *testing.T) {
	cfg := types.DefaultTaxonomyConfig().Cluster
	cfg.Method = types.MethodDBSCAN

	out, err := Cluster(context.Background(), uniform(10, 0.05), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, Conflict, out.State)
	assert.Equal(t, 1, out.Result.K)
	assert.Zero(t, out.Result.Noise)
	assert.Less(t, out.Iterations, defaultMaxIterations)
}

func TestClusterIdenticalPointsTerminate(t *testing.T) {
	cfg := types.DefaultTaxonomyConfig().Cluster
	for _, m := range []types.ClusterMethod{types.MethodDBSCAN, types.MethodHDBSCAN} {
		t.Run(string(m), func(t *testing.T) {
			cfg := cfg
			cfg.Method = m
			out, err := Cluster(context.Background(), uniform(8, 0), cfg, nil)
			require.NoError(t, err)
			assert.LessOrEqual(t, out.Iterations, defaultMaxIterations)
			assert.NotEqual(t, Success, out.State)
		})
	}
}

func TestFixed(t *testing.T) {
	cfg := types.ClusterConfig{Method: types.MethodDBSCAN, Eps: 0.05}
	res, err := Fixed(twoBlobs(t, true), cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, res.K)

	cfg = types.ClusterConfig{Method: types.MethodKMeans, K: 3}
	res, err = Fixed(threeBlobs(t), cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, res.K)
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod(" HDBSCAN ")
	require.NoError(t, err)
	assert.Equal(t, types.MethodHDBSCAN, m)

	_, err = ParseMethod("agglomerative")
	assert.ErrorIs(t, err, ErrUnknownMethod)
}
