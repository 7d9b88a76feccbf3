package embedder

import (
	"context"
	"fmt"

	"github.com/crimson-sun/swatch/internal/metrics"
)

// Embedder maps text to fixed-size vectors. EmbedBatch preserves input
// order. Implementations must accept the empty string.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Close() error
}

// ONNXConfig locates the files of a local sentence encoder.
type ONNXConfig struct {
	ModelPath      string // model.onnx
	TokenizerPath  string // tokenizer.json
	ProjectionPath string // optional Dense safetensors
	LibraryPath    string // libonnxruntime; defaults to the model directory
	MaxTokens      int
	Threads        int
	BatchSize      int
}

// ONNXEmbedder runs tokenize → ONNX inference → mean pool → optional dense
// projection → L2 normalize in process.
type ONNXEmbedder struct {
	session   *onnxSession
	tok       *textTokenizer
	proj      *projection
	batchSize int
}

// NewONNX loads the encoder described by cfg.
func NewONNX(cfg ONNXConfig) (*ONNXEmbedder, error) {
	sess, err := newONNXSession(cfg.ModelPath, cfg.LibraryPath, cfg.Threads)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	tok, err := newTextTokenizer(cfg.TokenizerPath, cfg.MaxTokens)
	if err != nil {
		sess.close()
		return nil, fmt.Errorf("embedder: %w", err)
	}

	var proj *projection
	if cfg.ProjectionPath != "" {
		proj, err = loadProjection(cfg.ProjectionPath, denseTensor)
		if err != nil {
			sess.close()
			return nil, fmt.Errorf("embedder: %w", err)
		}
		if int(sess.embedDim) != proj.inDim {
			sess.close()
			return nil, fmt.Errorf("embedder: ONNX output dim %d != projection input dim %d",
				sess.embedDim, proj.inDim)
		}
	}

	bs := cfg.BatchSize
	if bs <= 0 {
		bs = 32
	}
	return &ONNXEmbedder{session: sess, tok: tok, proj: proj, batchSize: bs}, nil
}

// Dim returns the output dimensionality.
func (e *ONNXEmbedder) Dim() int {
	if e.proj != nil {
		return e.proj.outDim
	}
	return int(e.session.embedDim)
}

func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch runs inference in chunks of BatchSize, checking ctx between
// chunks.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+e.batchSize, len(texts))

		batch, err := e.tok.encodeBatch(texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedder: %w", err)
		}
		metrics.EmbedRequests.WithLabelValues("onnx").Inc()
		hidden, err := e.session.infer(batch)
		if err != nil {
			return nil, fmt.Errorf("embedder: %w", err)
		}
		for _, vec := range meanPool(hidden, batch, int(e.session.embedDim)) {
			if e.proj != nil {
				vec = e.proj.apply(vec)
			}
			l2Normalize(vec)
			out = append(out, vec)
		}
	}
	return out, nil
}

// Close releases ONNX Runtime resources.
func (e *ONNXEmbedder) Close() error {
	if e != nil && e.session != nil {
		return e.session.close()
	}
	return nil
}
