package embedder

import "math"

// MeanPool averages token-level hidden states over non-padding positions,
// producing one vector per sequence. The attention mask supplies a
// per-token weight (1 real, 0 padding); the divisor is clipped to a small
// positive value so an all-padding row cannot divide by zero.
func MeanPool(hidden [][][]float32, mask [][]int32) [][]float32 {
	out := make([][]float32, len(hidden))
	for i, seq := range hidden {
		if len(seq) == 0 {
			out[i] = []float32{}
			continue
		}
		dim := len(seq[0])
		sum := make([]float32, dim)
		var count float64
		for p, tok := range seq {
			if p >= len(mask[i]) || mask[i][p] == 0 {
				continue
			}
			count++
			for d := 0; d < dim && d < len(tok); d++ {
				sum[d] += tok[d]
			}
		}
		if count < 1e-9 {
			count = 1e-9
		}
		for d := range sum {
			sum[d] = float32(float64(sum[d]) / count)
		}
		out[i] = sum
	}
	return out
}

// L2Normalize scales each vector to unit length in place. A genuine zero
// vector is left as zero rather than producing NaN.
func L2Normalize(vectors [][]float32) {
	for _, v := range vectors {
		var sq float64
		for _, x := range v {
			sq += float64(x) * float64(x)
		}
		if sq == 0 {
			continue
		}
		norm := math.Sqrt(sq)
		for i := range v {
			v[i] = float32(float64(v[i]) / norm)
		}
	}
}
