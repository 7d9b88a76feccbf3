package embedder

import (
	"context"
	"hash/fnv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Hashing is a deterministic, model-free embedder. It hashes padded
// character trigrams of the NFKC-folded text into Dim buckets with a sign
// bit, then L2-normalizes. Texts sharing surface trigrams get positive
// similarity. The empty string maps to the zero vector.
type Hashing struct {
	dim int
}

// NewHashing returns a Hashing embedder with dim buckets.
func NewHashing(dim int) *Hashing {
	if dim <= 0 {
		dim = 256
	}
	return &Hashing{dim: dim}
}

func (h *Hashing) Dim() int { return h.dim }

func (h *Hashing) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, h.dim)
	folded := strings.ToLower(norm.NFKC.String(strings.TrimSpace(text)))
	if folded == "" {
		return vec, nil
	}
	for _, word := range strings.Fields(folded) {
		r := []rune(" " + word + " ")
		for i := 0; i+3 <= len(r); i++ {
			f := fnv.New64a()
			f.Write([]byte(string(r[i : i+3])))
			sum := f.Sum64()
			bucket := int(sum % uint64(h.dim))
			if sum&(1<<63) != 0 {
				vec[bucket]--
			} else {
				vec[bucket]++
			}
		}
	}
	l2Normalize(vec)
	return vec, nil
}

func (h *Hashing) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (h *Hashing) Close() error { return nil }
