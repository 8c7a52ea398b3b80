package database

import "math"

// CosineSimilarity computes the cosine similarity of two embedding vectors.
// It returns 0 when the vectors have different lengths or either has zero norm.
func CosineSimilarity(a, b []float32) float64 {
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

// CosineDistance computes the cosine distance (1 - similarity) of two vectors.
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}
