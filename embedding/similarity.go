package embedding

import (
	"math"

	apperrors "persona-recall/errors"
)

// CosineSimilarity computes the cosine of the angle between two vectors.
// Vectors of different lengths fail with ErrDimensionMismatch. A zero-
// magnitude vector yields 0 rather than dividing by zero.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, apperrors.WrapErrorf(apperrors.ErrDimensionMismatch, "got %d and %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, nil
	}

	var dot, normA, normB float64
	for i := range a {
		av := float64(a[i])
		bv := float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0, nil
	}
	// Float accumulation can push identical vectors a hair past 1.
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return sim, nil
}

// IsZeroVector reports whether every component is zero. Zero vectors are the
// fail-open placeholder for items whose embedding failed.
func IsZeroVector(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
