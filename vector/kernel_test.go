package vector

import (
	"math"
	"testing"

	"github.com/hupe1980/vecsql/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKernels(t *testing.T) {
	rng := testutil.NewRNG(4711)

	// Lengths around every lane width exercise the chunk tail.
	for _, dim := range []int{1, 3, 4, 7, 8, 15, 16, 17, 33, 384} {
		data := rng.UniformVectors(2, dim)
		a, b := data[0], data[1]

		delta := 1e-4 * float64(dim)
		assert.InDelta(t, testutil.Dot(a, b), Dot(a, b), delta, "dim %d", dim)
		assert.InDelta(t, -testutil.NegSquaredL2(a, b), SquaredL2(a, b), delta, "dim %d", dim)
	}
}

func TestLaneWidths(t *testing.T) {
	saved := lanes
	t.Cleanup(func() { lanes = saved })

	a := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17}
	b := make([]float32, len(a))
	for i := range b {
		b[i] = 1
	}

	for _, w := range []int{4, 8, 16} {
		lanes = w
		assert.Equal(t, float32(153), Dot(a, b))
		assert.Equal(t, float32(0), SquaredL2(a, a))
	}
}

func TestMetrics(t *testing.T) {
	a := []float32{3, 4}
	b := []float32{4, 3}

	assert.InDelta(t, 5.0, float64(Norm(a)), 1e-6)
	assert.InDelta(t, math.Sqrt2, L2Distance(a, b), 1e-6)
	assert.InDelta(t, 24.0/25.0, float64(CosineSimilarity(a, b)), 1e-6)
	assert.InDelta(t, 1-24.0/25.0, CosineDistance(a, b), 1e-6)
	assert.Equal(t, float32(0), CosineSimilarity(a, []float32{0, 0}))

	assert.Equal(t, float32(-2), MetricL2.Score(a, b))
	assert.Equal(t, float32(24), MetricDot.Score(a, b))

	unit := Normalize(a)
	assert.InDelta(t, 1.0, float64(Norm(unit)), 1e-6)
	assert.Equal(t, []float32{0, 0}, Normalize([]float32{0, 0}))

	for in, want := range map[string]Metric{"L2": MetricL2, " cosine ": MetricCosine, "dot": MetricDot, "": MetricL2} {
		got, err := ParseMetric(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMetric("hamming")
	assert.Error(t, err)
}
