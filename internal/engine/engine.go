package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/crimson-sun/swatch/internal/detector"
	"github.com/crimson-sun/swatch/internal/engine/embedder"
	"github.com/crimson-sun/swatch/internal/engine/normalize"
	"github.com/crimson-sun/swatch/internal/engine/scorer"
	"github.com/crimson-sun/swatch/internal/engine/taxonomy"
	"github.com/crimson-sun/swatch/internal/logging"
	"github.com/crimson-sun/swatch/internal/metrics"
	"github.com/crimson-sun/swatch/internal/model"
)

var (
	// ErrLabelDetection marks a failed call to the image label detector.
	ErrLabelDetection = errors.New("label detection failed")
	// ErrEmbedding marks a failure to load the embedding model or embed text.
	ErrEmbedding = errors.New("embedding failed")
)

// Weights are the per-source multipliers applied before fusion.
type Weights struct {
	Vision      float64
	Description float64
	Title       float64
}

// Config tunes the engine. Zero values fall back to DefaultConfig.
type Config struct {
	Weights     Weights
	ManualBonus float64
	Scoring     scorer.Config
	Concurrency int
	Timeout     time.Duration
}

// DefaultConfig returns the calibration constants the persisted attribute
// records were produced with.
func DefaultConfig() Config {
	return Config{
		Weights:     Weights{Vision: 1, Description: 2, Title: 3},
		ManualBonus: 50,
		Scoring:     scorer.DefaultConfig(),
		Concurrency: 10,
		Timeout:     30 * time.Second,
	}
}

// Engine orchestrates label detection, per-source scoring and fusion.
type Engine struct {
	tax    *taxonomy.Taxonomy
	emb    embedder.Embedder
	det    detector.Detector
	norm   *normalize.Normalizer
	scorer *scorer.Scorer
	cfg    Config

	mu       sync.RWMutex
	vectors  map[string][][]float32
	inflight singleflight.Group
}

// New creates an Engine. det may be nil when only Classify is used.
func New(tax *taxonomy.Taxonomy, emb embedder.Embedder, det detector.Detector, cfg Config) *Engine {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultConfig().Weights
	}
	if cfg.Scoring == (scorer.Config{}) {
		cfg.Scoring = scorer.DefaultConfig()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	norm := normalize.New(tax.Normalization(), tax.Banned())
	return &Engine{
		tax:     tax,
		emb:     emb,
		det:     det,
		norm:    norm,
		scorer:  scorer.New(emb, norm, cfg.Scoring),
		cfg:     cfg,
		vectors: make(map[string][][]float32, len(tax.Categories())),
	}
}

// Taxonomy returns the taxonomy the engine scores against.
func (e *Engine) Taxonomy() *taxonomy.Taxonomy { return e.tax }

// Normalizer returns the label normalizer built from the taxonomy tables.
func (e *Engine) Normalizer() *normalize.Normalizer { return e.norm }

// Classify scores every category of the taxonomy against the three signal
// sources and picks a winner per category. Either every category gets a
// result or an error is returned.
func (e *Engine) Classify(ctx context.Context, labels []model.DetectedLabel, description, title string) (model.Classification, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	out, err := e.classify(ctx, labels, description, title)
	metrics.ClassifyDuration.WithLabelValues(metrics.Outcome(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	logging.Debug().
		Int("labels", len(labels)).
		Dur("duration", time.Since(start)).
		Msg("classified")
	return out, nil
}

// Analysis is the result of running detection and classification together.
type Analysis struct {
	Labels           []model.DetectedLabel
	BasicDescription string
	Attributes       model.Classification
}

// Analyze detects labels for img, then classifies them with the description
// and title. The timeout covers both steps.
func (e *Engine) Analyze(ctx context.Context, img detector.Image, description, title string) (Analysis, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	labels, err := e.Detect(ctx, img)
	if err != nil {
		return Analysis{}, err
	}

	start := time.Now()
	attrs, err := e.classify(ctx, labels, description, title)
	metrics.ClassifyDuration.WithLabelValues(metrics.Outcome(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		return Analysis{}, err
	}
	return Analysis{
		Labels:           labels,
		BasicDescription: e.BasicDescription(labels),
		Attributes:       attrs,
	}, nil
}

// Detect runs the configured label detector. Failures wrap ErrLabelDetection.
func (e *Engine) Detect(ctx context.Context, img detector.Image) ([]model.DetectedLabel, error) {
	if e.det == nil {
		return nil, fmt.Errorf("%w: no detector configured", ErrLabelDetection)
	}
	labels, err := e.det.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLabelDetection, e.det.Name(), err)
	}
	return labels, nil
}

// BasicDescription joins the confident, non-banned labels in input order.
func (e *Engine) BasicDescription(labels []model.DetectedLabel) string {
	return e.norm.BasicDescription(labels, e.cfg.Scoring.ExactThreshold)
}

// Warm embeds every category's candidates ahead of the first item.
func (e *Engine) Warm(ctx context.Context) error {
	for _, cat := range e.tax.Categories() {
		if _, err := e.embedCategory(ctx, cat); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, e.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func (e *Engine) classify(ctx context.Context, labels []model.DetectedLabel, description, title string) (model.Classification, error) {
	cats := e.tax.Categories()
	results := make([]model.AttributeResult, len(cats))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, cat := range cats {
		g.Go(func() error {
			r, err := e.scoreCategory(gctx, cat, labels, description, title)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(model.Classification, len(cats))
	for i, cat := range cats {
		out[cat.Name] = results[i]
	}
	return out, nil
}

func (e *Engine) scoreCategory(ctx context.Context, cat model.Category, labels []model.DetectedLabel, description, title string) (model.AttributeResult, error) {
	vecs, err := e.embedCategory(ctx, cat)
	if err != nil {
		return model.AttributeResult{}, err
	}
	ec := model.EmbeddedCategory{Category: cat, Vectors: vecs}
	w, bonus := e.cfg.Weights, e.cfg.ManualBonus

	vision, err := e.scorer.FromLabels(ctx, labels, ec, w.Vision, bonus)
	if err != nil {
		return model.AttributeResult{}, fmt.Errorf("%w: %s vision: %w", ErrEmbedding, cat.Name, err)
	}
	desc, err := e.scorer.FromText(ctx, description, ec, w.Description, bonus)
	if err != nil {
		return model.AttributeResult{}, fmt.Errorf("%w: %s description: %w", ErrEmbedding, cat.Name, err)
	}
	tit, err := e.scorer.FromText(ctx, title, ec, w.Title, bonus)
	if err != nil {
		return model.AttributeResult{}, fmt.Errorf("%w: %s title: %w", ErrEmbedding, cat.Name, err)
	}

	return fuse(cat, vision, desc, tit), nil
}

// fuse sums the source vectors, rescales by the category divisor and picks
// the arg-max. Ties go to the candidate declared first.
func fuse(cat model.Category, vision, desc, title model.ScoreVector) model.AttributeResult {
	summed := make(model.ScoreVector, len(cat.Candidates))
	for _, c := range cat.Candidates {
		summed[c] = (vision[c] + desc[c] + title[c]) / cat.Divisor
	}

	chosen := cat.Candidates[0]
	best := summed[chosen]
	for _, c := range cat.Candidates[1:] {
		if summed[c] > best {
			chosen, best = c, summed[c]
		}
	}
	return model.AttributeResult{Chosen: chosen, Score: best, DetailedScores: summed}
}

// embedCategory returns the candidate vectors for cat, embedding them once.
// The shared embed is detached from any one caller's cancellation and each
// caller waits under its own ctx. Failures are not cached so a later call
// can retry.
func (e *Engine) embedCategory(ctx context.Context, cat model.Category) ([][]float32, error) {
	e.mu.RLock()
	vecs, ok := e.vectors[cat.Name]
	e.mu.RUnlock()
	if ok {
		return vecs, nil
	}

	ch := e.inflight.DoChan(cat.Name, func() (any, error) {
		sctx, cancel := e.sharedContext(ctx)
		defer cancel()
		vecs, err := e.emb.EmbedBatch(sctx, cat.Candidates)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(cat.Candidates) {
			return nil, fmt.Errorf("got %d vectors for %d candidates", len(vecs), len(cat.Candidates))
		}
		e.mu.Lock()
		e.vectors[cat.Name] = vecs
		e.mu.Unlock()
		return vecs, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %s candidates: %w", ErrEmbedding, cat.Name, res.Err)
		}
		return res.Val.([][]float32), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s candidates: %w", ErrEmbedding, cat.Name, ctx.Err())
	}
}

// sharedContext keeps ctx values but not its deadline, bounding the work by
// the engine timeout instead.
func (e *Engine) sharedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if e.cfg.Timeout > 0 {
		return context.WithTimeout(detached, e.cfg.Timeout)
	}
	return context.WithCancel(detached)
}
