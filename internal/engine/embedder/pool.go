package embedder

import "math"

// meanPool averages hidden states over the unmasked positions of each row
// and returns one vector per row. Rows with no unmasked token pool to zero.
func meanPool(hidden []float32, b *tokenBatch, dim int) [][]float32 {
	seqLen := int(b.seqLen)
	out := make([][]float32, b.batchSize)

	for row := range out {
		vec := make([]float32, dim)
		out[row] = vec

		var count float32
		for s := 0; s < seqLen; s++ {
			if b.attentionMask[row*seqLen+s] != 1 {
				continue
			}
			count++
			tok := hidden[(row*seqLen+s)*dim:]
			for d := 0; d < dim; d++ {
				vec[d] += tok[d]
			}
		}
		if count == 0 {
			continue
		}
		inv := 1 / count
		for d := range vec {
			vec[d] *= inv
		}
	}
	return out
}

// l2Normalize scales v to unit length in place. Zero vectors are left as is.
func l2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
