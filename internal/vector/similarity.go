// Package vector provides the similarity index over stored entity embeddings.
package vector

import "math"

// Cosine returns the cosine similarity dot(a,b)/(‖a‖·‖b‖) of two vectors.
// Returns 0 when the lengths differ or either vector has zero norm, so mismatched
// candidates score below any positive threshold instead of failing the search.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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
