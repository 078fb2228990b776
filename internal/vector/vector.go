// Package vector holds the numeric helpers shared by the embedding, retrieval
// and re-ranking stages.
package vector

import "math"

// normEpsilon guards against division by zero when normalising an all-zero vector.
const normEpsilon = 1e-8

// Embedding is a fixed-dimension, L2-normalised vector produced by an encoder.
type Embedding []float32

// Dot returns the dot product of a and b over their shared prefix.
func Dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Clamp bounds x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Fuse combines an image similarity and a text similarity into one ranking score.
// Both similarities are clamped to [-1, 1]; the weights are used as given.
func Fuse(imageSim, textSim, alpha, beta float64) float64 {
	return alpha*Clamp(imageSim, -1, 1) + beta*Clamp(textSim, -1, 1)
}

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of v.
func Normalize(v []float32) Embedding {
	norm := Norm(v)
	if norm == 0 {
		norm = normEpsilon
	}
	out := make(Embedding, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Mean returns the element-wise mean of vs. All vectors must share the length of
// the first one; shorter vectors contribute zeros to the missing positions.
func Mean(vs ...[]float32) []float32 {
	if len(vs) == 0 {
		return nil
	}
	out := make([]float64, len(vs[0]))
	for _, v := range vs {
		for i := 0; i < len(out) && i < len(v); i++ {
			out[i] += float64(v[i])
		}
	}
	mean := make([]float32, len(out))
	for i, s := range out {
		mean[i] = float32(s / float64(len(vs)))
	}
	return mean
}
