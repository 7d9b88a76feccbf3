package embedder

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/goccy/go-json"
)

// denseTensor is the weight name sentence-transformers uses for its Dense
// module.
const denseTensor = "linear.weight"

// projection is a bias-free dense layer loaded from safetensors that maps
// pooled vectors from inDim to outDim.
type projection struct {
	weights []float32 // row-major [outDim, inDim]
	inDim   int
	outDim  int
}

type tensorMeta struct {
	Dtype       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// loadProjection reads a single F32 2D tensor from a safetensors file:
// an 8-byte little-endian header length, a JSON header, then raw data.
func loadProjection(path, tensor string) (*projection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("projection: %w", err)
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("projection: file too small: %d bytes", len(data))
	}

	headerLen := binary.LittleEndian.Uint64(data[:8])
	if uint64(len(data))-8 < headerLen {
		return nil, fmt.Errorf("projection: header length %d exceeds file size", headerLen)
	}
	base := 8 + int(headerLen)

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:base], &header); err != nil {
		return nil, fmt.Errorf("projection: parse header: %w", err)
	}
	raw, ok := header[tensor]
	if !ok {
		return nil, fmt.Errorf("projection: tensor %q not found", tensor)
	}
	var meta tensorMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("projection: parse tensor metadata: %w", err)
	}

	if meta.Dtype != "F32" {
		return nil, fmt.Errorf("projection: expected dtype F32, got %s", meta.Dtype)
	}
	if len(meta.Shape) != 2 {
		return nil, fmt.Errorf("projection: expected 2D tensor, got shape %v", meta.Shape)
	}
	outDim, inDim := meta.Shape[0], meta.Shape[1]

	start, end := base+meta.DataOffsets[0], base+meta.DataOffsets[1]
	if end-start != outDim*inDim*4 {
		return nil, fmt.Errorf("projection: data size %d doesn't match shape %v", end-start, meta.Shape)
	}
	if start < base || end > len(data) {
		return nil, fmt.Errorf("projection: data range [%d:%d] exceeds file size %d", start, end, len(data))
	}

	weights := make([]float32, outDim*inDim)
	for i := range weights {
		off := start + i*4
		weights[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
	}
	return &projection{weights: weights, inDim: inDim, outDim: outDim}, nil
}

// apply projects a single vector from inDim to outDim.
func (p *projection) apply(vec []float32) []float32 {
	out := make([]float32, p.outDim)
	for i := range out {
		row := p.weights[i*p.inDim : (i+1)*p.inDim]
		var sum float32
		for j, w := range row {
			sum += w * vec[j]
		}
		out[i] = sum
	}
	return out
}
