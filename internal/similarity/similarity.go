// Package similarity provides the embedding comparison primitives used
// across clustering, deduplication and voting. All vectors in the system
// share one fixed dimensionality.
package similarity

import "math"

// Cosine returns the cosine similarity of two embeddings. It returns 0
// for nil, empty, zero-norm or mismatched-length inputs so that callers
// can treat missing comparison data as "not similar" rather than erroring.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Normalize returns a unit-length copy of v, or v unchanged when its
// norm is zero. Vectors are normalized before insertion into the ANN
// index so inner-product search equals cosine similarity.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
