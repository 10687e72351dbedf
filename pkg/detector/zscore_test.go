package detector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZScores(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   []float64
	}{
		{name: "empty", values: nil, want: []float64{}},
		{name: "single value", values: []float64{0.8}, want: []float64{0}},
		{name: "identical values", values: []float64{0.3, 0.3, 0.3}, want: []float64{0, 0, 0}},
		{name: "two points", values: []float64{0, 1}, want: []float64{-1, 1}},
		{
			name:   "population sigma",
			values: []float64{2, 4, 4, 4, 5, 5, 7, 9},
			want:   []float64{-1.5, -0.5, -0.5, -0.5, 0, 0, 1, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ZScores(tt.values)
			require.Len(t, got, len(tt.want))

			for i := range tt.want {
				assert.InDelta(t, tt.want[i], got[i], 1e-12, "index %d", i)
			}
		})
	}
}

func TestZScores_RoundingResidueIsDegenerate(t *testing.T) {
	// 0.1 is not representable; ten EWMA steps over it drift by a few ulps.
	values := ComputeEWMA([]float64{0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1}, 0.3)

	for _, z := range ZScores(values) {
		assert.Equal(t, 0.0, z)
	}
}

func TestZScores_SumToZero(t *testing.T) {
	values := []float64{0.1, 0.35, 0.9, 0.0, 0.42, 0.42}

	var sum float64
	for _, z := range ZScores(values) {
		assert.False(t, math.IsNaN(z))
		sum += z
	}

	assert.InDelta(t, 0, sum, 1e-9)
}

func TestFlagStatistical(t *testing.T) {
	scores := []float64{-2.5, -2, 0, 1.99, 2, 2.01}

	assert.Equal(t,
		[]bool{true, false, false, false, false, true},
		FlagStatistical(scores, 2.0),
	)
	assert.Equal(t,
		[]bool{true, true, false, true, true, true},
		FlagStatistical(scores, 1.5),
	)
}
