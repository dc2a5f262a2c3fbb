package similarity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCosineIdenticalVectors(t *testing.T) {
	a := []float32{0.5, 0.5, 0.5}
	require.InDelta(t, 1.0, Cosine(a, a), 1e-9)
}

func TestCosineOrthogonalVectors(t *testing.T) {
	require.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
}

func TestCosineOppositeVectors(t *testing.T) {
	require.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
}

func TestCosineDegenerateInputs(t *testing.T) {
	require.Zero(t, Cosine(nil, []float32{1, 0}))
	require.Zero(t, Cosine([]float32{1, 0}, nil))
	require.Zero(t, Cosine([]float32{}, []float32{}))
	require.Zero(t, Cosine([]float32{1, 0}, []float32{1, 0, 0}))
	require.Zero(t, Cosine([]float32{0, 0}, []float32{1, 0}))
}

func TestNormalizeUnitLength(t *testing.T) {
	v := Normalize([]float32{3, 4})

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	require.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)
	require.InDelta(t, 0.6, float64(v[0]), 1e-6)
	require.InDelta(t, 0.8, float64(v[1]), 1e-6)
}

func TestNormalizePreservesCosine(t *testing.T) {
	a := []float32{2, 1, 0}
	b := []float32{1, 3, 1}

	before := Cosine(a, b)
	after := Cosine(Normalize(a), Normalize(b))
	require.InDelta(t, before, after, 1e-6)
}
