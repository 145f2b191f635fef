package embedding

import "math"

// truncateMRL slices embedding down to targetDim (snapped to the nearest
// valid Matryoshka width) and L2-renormalizes the result, since a raw prefix
// of a normalized vector is no longer unit length.
func truncateMRL(embedding []float32, targetDim int) []float32 {
	dim := snapToValidDimension(targetDim)
	if dim >= len(embedding) {
		return normalize(embedding)
	}
	truncated := make([]float32, dim)
	copy(truncated, embedding[:dim])
	return normalize(truncated)
}

// normalize L2-normalizes embedding in place and returns it.
func normalize(embedding []float32) []float32 {
	var sumSquares float64
	for _, v := range embedding {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return embedding
	}
	norm := math.Sqrt(sumSquares)
	for i, v := range embedding {
		embedding[i] = float32(float64(v) / norm)
	}
	return embedding
}
