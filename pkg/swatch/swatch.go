package swatch

import (
	"context"
	"fmt"
	"os"

	"github.com/crimson-sun/swatch/internal/detector"
	"github.com/crimson-sun/swatch/internal/engine"
	"github.com/crimson-sun/swatch/internal/engine/embedder"
	"github.com/crimson-sun/swatch/internal/engine/scorer"
	"github.com/crimson-sun/swatch/internal/engine/taxonomy"
	"github.com/crimson-sun/swatch/internal/model"
)

// Swatch is a product attribute scorer. Safe for concurrent use.
type Swatch struct {
	engine   *engine.Engine
	embedder embedder.Embedder
	taxonomy *taxonomy.Taxonomy
}

// New creates a Swatch. The taxonomy is validated here; the ONNX model, when
// used, is loaded on the first call that needs it.
func New(opts ...Option) (*Swatch, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	tax, err := loadTaxonomy(o.taxonomyFile)
	if err != nil {
		return nil, fmt.Errorf("swatch: %w", err)
	}
	gate, err := scorer.ParseGate(o.textGate)
	if err != nil {
		return nil, fmt.Errorf("swatch: %w", err)
	}

	var inner embedder.Embedder = o.embedder
	namespace := "custom"
	if inner == nil {
		inner = onnxLoader(o.modelDir)
		namespace = "onnx:" + o.modelDir
	}
	emb := embedder.NewCached(inner, embedder.CacheOptions{Namespace: namespace})

	var det detector.Detector
	if o.detector != nil {
		det = detector.NewGuard(detectorAdapter{o.detector}, detector.DefaultGuardConfig())
	}

	cfg := engine.DefaultConfig()
	cfg.Scoring.TextGate = gate
	if o.concurrency > 0 {
		cfg.Concurrency = o.concurrency
	}
	if o.timeout > 0 {
		cfg.Timeout = o.timeout
	}

	return &Swatch{
		engine:   engine.New(tax, emb, det, cfg),
		embedder: emb,
		taxonomy: tax,
	}, nil
}

func loadTaxonomy(path string) (*taxonomy.Taxonomy, error) {
	if path == "" {
		return taxonomy.Default()
	}
	return taxonomy.Load(path)
}

func onnxLoader(dir string) *embedder.Lazy {
	return embedder.NewLazy(func(ctx context.Context) (embedder.Embedder, error) {
		model, tok, proj := resolvePaths(dir)
		if _, err := os.Stat(proj); err != nil {
			proj = ""
		}
		emb, err := embedder.NewONNX(embedder.ONNXConfig{
			ModelPath:      model,
			TokenizerPath:  tok,
			ProjectionPath: proj,
		})
		if err != nil {
			return nil, err
		}
		return emb, nil
	})
}

// Classify scores every category against the labels, description and
// title. Any of the three may be empty.
func (s *Swatch) Classify(ctx context.Context, labels []Label, description, title string) (map[string]Result, error) {
	c, err := s.engine.Classify(ctx, toModelLabels(labels), description, title)
	if err != nil {
		return nil, err
	}
	return fromClassification(c), nil
}

// Analyze runs the configured detector on img, then classifies. Without
// WithDetector it fails with ErrLabelDetection.
func (s *Swatch) Analyze(ctx context.Context, img Image, description, title string) (Analysis, error) {
	a, err := s.engine.Analyze(ctx, detector.Image{URL: img.URL, Data: img.Data, MIMEType: img.MIMEType}, description, title)
	if err != nil {
		return Analysis{}, err
	}
	return Analysis{
		Labels:           fromModelLabels(a.Labels),
		BasicDescription: a.BasicDescription,
		Attributes:       fromClassification(a.Attributes),
	}, nil
}

// DefaultAttributes returns every candidate of every category at score 0.
func (s *Swatch) DefaultAttributes() map[string]float64 {
	return s.taxonomy.DefaultAttributes()
}

// Flatten overlays the detailed scores of res onto DefaultAttributes.
// Scores for names outside the taxonomy are dropped.
func (s *Swatch) Flatten(res map[string]Result) map[string]float64 {
	c := make(model.Classification, len(res))
	for name, r := range res {
		c[name] = model.AttributeResult{Chosen: r.Chosen, Score: r.Score, DetailedScores: r.DetailedScores}
	}
	return s.taxonomy.Merge(c)
}

// Close releases model resources. Must be called when the Swatch is no
// longer needed.
func (s *Swatch) Close() error {
	return s.embedder.Close()
}
