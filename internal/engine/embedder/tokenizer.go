package embedder

import (
	"fmt"

	hftok "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

const defaultMaxTokens = 128

// encoding is one tokenized text before padding.
type encoding struct {
	ids     []int
	typeIDs []int
	mask    []int
}

// tokenBatch is a right-padded batch flattened row-major to
// [batchSize * seqLen].
type tokenBatch struct {
	inputIDs      []int64
	attentionMask []int64
	tokenTypeIDs  []int64
	batchSize     int64
	seqLen        int64
}

// textTokenizer wraps a HuggingFace tokenizer.json.
type textTokenizer struct {
	tk     *hftok.Tokenizer
	maxLen int
}

func newTextTokenizer(path string, maxLen int) (*textTokenizer, error) {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load %s: %w", path, err)
	}
	if maxLen <= 0 {
		maxLen = defaultMaxTokens
	}
	return &textTokenizer{tk: tk, maxLen: maxLen}, nil
}

func (t *textTokenizer) encodeBatch(texts []string) (*tokenBatch, error) {
	encs := make([]encoding, len(texts))
	for i, text := range texts {
		en, err := t.tk.EncodeSingle(text, true)
		if err != nil {
			return nil, fmt.Errorf("tokenizer: encode: %w", err)
		}
		encs[i] = encoding{
			ids:     truncateKeepLast(en.GetIds(), t.maxLen),
			typeIDs: truncateKeepLast(en.GetTypeIds(), t.maxLen),
			mask:    truncateKeepLast(en.GetAttentionMask(), t.maxLen),
		}
	}
	return padBatch(encs), nil
}

// truncateKeepLast cuts s to n elements, keeping the final element so the
// trailing separator token survives.
func truncateKeepLast(s []int, n int) []int {
	if len(s) <= n || n <= 0 {
		return s
	}
	out := make([]int, n)
	copy(out, s[:n-1])
	out[n-1] = s[len(s)-1]
	return out
}

// padBatch pads every encoding to the longest one. Padding positions get
// id 0 and mask 0.
func padBatch(encs []encoding) *tokenBatch {
	seqLen := 0
	for _, e := range encs {
		if len(e.ids) > seqLen {
			seqLen = len(e.ids)
		}
	}
	n := len(encs) * seqLen
	b := &tokenBatch{
		inputIDs:      make([]int64, n),
		attentionMask: make([]int64, n),
		tokenTypeIDs:  make([]int64, n),
		batchSize:     int64(len(encs)),
		seqLen:        int64(seqLen),
	}
	for i, e := range encs {
		off := i * seqLen
		for j, id := range e.ids {
			b.inputIDs[off+j] = int64(id)
			m := int64(1)
			if j < len(e.mask) {
				m = int64(e.mask[j])
			}
			b.attentionMask[off+j] = m
			if j < len(e.typeIDs) {
				b.tokenTypeIDs[off+j] = int64(e.typeIDs[j])
			}
		}
	}
	return b
}
