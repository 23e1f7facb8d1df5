package balance

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pdiddy/litreview-engine/pkg/types"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name  string
		band  Band
		sizes []int
		want  float64
	}{
		{"even in band", Fine, []int{10, 10, 10}, 0},
		{"uneven in band", Fine, []int{6, 14}, 4},
		// std 2, penalty 2*(6-4)^2 / 2 = 4
		{"one small", Fine, []int{4, 8}, 6},
		// std 5, penalty 0.5*(20-15) / 2 = 1.25
		{"one large", Fine, []int{10, 20}, 6.25},
		{"coarse band", Coarse, []int{30, 30}, 0},
		// std 0, penalty 2*10^2
		{"coarse small", Coarse, []int{10}, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, New(tt.band).Score(tt.sizes), 1e-9)
		})
	}
}

func TestScoreEmptyIsInfinite(t *testing.T) {
	s := New(Coarse)
	assert.True(t, math.IsInf(s.Score(nil), 1))
	assert.True(t, math.IsInf(s.ScoreLabels([]int{-1, -1}), 1))
	assert.True(t, math.IsInf(s.ScorePartition(types.Partition{}), 1))
}

func TestScoreMonotonicity(t *testing.T) {
	for _, band := range []Band{Coarse, Fine} {
		s := New(band)
		even := []int{band.Min, band.Min, band.Min}
		oneSmall := []int{band.Min - 1, band.Min, band.Min}
		assert.Less(t, s.Score(even), s.Score(oneSmall), "band %v", band)
	}
}

func TestScoreIgnoresOrder(t *testing.T) {
	s := New(Fine)
	sizes := []int{7, 9, 11, 13, 3, 17, 23, 5, 29, 31, 2}
	want := math.Float64bits(s.Score(sizes))

	rng := rand.New(rand.NewSource(1))
	shuffled := append([]int(nil), sizes...)
	for i := 0; i < 500; i++ {
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, math.Float64bits(s.Score(shuffled)), "order %v", shuffled)
	}
	assert.Equal(t, []int{7, 9, 11, 13, 3, 17, 23, 5, 29, 31, 2}, sizes, "input left untouched")
}

func TestScoreLabelsAndPartition(t *testing.T) {
	s := New(Fine)
	labels := []int{0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 1, 1, -1}
	assert.InDelta(t, 0, s.ScoreLabels(labels), 1e-12)

	p := types.Partition{}
	for i, l := range labels {
		p[string(rune('a'+i))] = types.Record{Label: l}
	}
	p["__ANCHOR_0__"] = types.Record{Label: 0}
	p["__ANCHOR_1__"] = types.Record{Label: 1}
	assert.InDelta(t, 0, s.ScorePartition(p), 1e-12)
}

func TestBandFrom(t *testing.T) {
	assert.Equal(t, Band{Min: 8, Max: 50}, BandFrom(types.BandConfig{Min: 8}, Coarse))
	assert.Equal(t, Fine, BandFrom(types.BandConfig{}, Fine))
}
