package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/crimson-sun/swatch/internal/config"
	"github.com/crimson-sun/swatch/internal/detector"
	"github.com/crimson-sun/swatch/internal/engine"
	"github.com/crimson-sun/swatch/internal/engine/embedder"
	"github.com/crimson-sun/swatch/internal/engine/scorer"
	"github.com/crimson-sun/swatch/internal/engine/taxonomy"
	"github.com/crimson-sun/swatch/internal/kv"
	"github.com/crimson-sun/swatch/internal/output"
	"github.com/crimson-sun/swatch/internal/output/async"
	fileout "github.com/crimson-sun/swatch/internal/output/file"
	"github.com/crimson-sun/swatch/internal/output/multi"
	"github.com/crimson-sun/swatch/internal/output/stdout"
	"github.com/crimson-sun/swatch/internal/output/webhook"
)

// runtime holds the components built from config and how to release them.
type runtime struct {
	engine  *engine.Engine
	closers []func() error
}

func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// build wires the engine. withDetector is false for commands that never
// look at images, so they do not need detector credentials.
func build(ctx context.Context, cfg *config.Config, withDetector bool) (*runtime, error) {
	rt := &runtime{}

	tax, err := loadTaxonomy(cfg.Scoring.TaxonomyPath)
	if err != nil {
		return nil, err
	}

	emb, err := buildEmbedder(cfg.Embedder, rt)
	if err != nil {
		rt.Close()
		return nil, err
	}

	var det detector.Detector
	if withDetector {
		det, err = buildDetector(ctx, cfg.Detector)
		if err != nil {
			rt.Close()
			return nil, err
		}
	}

	ecfg, err := engineConfig(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.engine = engine.New(tax, emb, det, ecfg)
	return rt, nil
}

func loadTaxonomy(path string) (*taxonomy.Taxonomy, error) {
	if path == "" {
		return taxonomy.Default()
	}
	return taxonomy.Load(path)
}

func engineConfig(cfg *config.Config) (engine.Config, error) {
	gate, err := scorer.ParseGate(cfg.Scoring.TextGate)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Weights: engine.Weights{
			Vision:      cfg.Scoring.VisionWeight,
			Description: cfg.Scoring.DescriptionWeight,
			Title:       cfg.Scoring.TitleWeight,
		},
		ManualBonus: cfg.Scoring.ManualBonus,
		Scoring: scorer.Config{
			ExactThreshold:    cfg.Scoring.ExactThreshold,
			SemanticThreshold: cfg.Scoring.SemanticThreshold,
			TextGate:          gate,
		},
		Concurrency: cfg.Engine.Concurrency,
		Timeout:     cfg.Engine.Timeout,
	}, nil
}

// buildEmbedder returns the configured backend behind a vector cache. The
// ONNX model is loaded lazily so commands that fail early never pay for it.
func buildEmbedder(cfg config.EmbedderConfig, rt *runtime) (embedder.Embedder, error) {
	var (
		inner     embedder.Embedder
		namespace string
	)
	switch cfg.Backend {
	case "hashing":
		inner = embedder.NewHashing(cfg.HashingDim)
		namespace = fmt.Sprintf("hashing:%d", cfg.HashingDim)
	case "openai":
		o, err := embedder.NewOpenAI(embedder.OpenAIConfig{
			APIKey:     cfg.APIKey,
			Model:      cfg.OpenAIModel,
			Dimensions: cfg.OpenAIDimensions,
			BaseURL:    cfg.OpenAIBaseURL,
		})
		if err != nil {
			return nil, err
		}
		inner = o
		namespace = fmt.Sprintf("openai:%s:%d", cfg.OpenAIModel, cfg.OpenAIDimensions)
	default:
		model, tok, proj := cfg.ONNXPaths()
		inner = embedder.NewLazy(func(ctx context.Context) (embedder.Embedder, error) {
			emb, err := embedder.NewONNX(embedder.ONNXConfig{
				ModelPath:      model,
				TokenizerPath:  tok,
				ProjectionPath: proj,
				LibraryPath:    cfg.LibraryPath,
			})
			if err != nil {
				return nil, err
			}
			return emb, nil
		})
		namespace = "onnx:" + model
	}

	opts := embedder.CacheOptions{Namespace: namespace, MaxMemory: cfg.CacheSize}
	if cfg.CacheDir != "" {
		store, err := kv.NewBadger(kv.BadgerOptions{Dir: cfg.CacheDir})
		if err != nil {
			inner.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, store.Close)
		opts.Store = store
	}
	cached := embedder.NewCached(inner, opts)
	rt.closers = append(rt.closers, cached.Close)
	return cached, nil
}

// buildDetector returns nil for the "none" backend.
func buildDetector(ctx context.Context, cfg config.DetectorConfig) (detector.Detector, error) {
	var (
		det detector.Detector
		err error
	)
	switch cfg.Backend {
	case "none":
		return nil, nil
	case "gemini":
		det, err = detector.NewGemini(ctx, detector.GeminiConfig{
			APIKey:     cfg.APIKey,
			Model:      cfg.GeminiModel,
			MaxResults: cfg.MaxResults,
		})
	default:
		det, err = detector.NewVision(detector.VisionConfig{
			Endpoint:   cfg.Endpoint,
			APIKey:     cfg.APIKey,
			MaxResults: cfg.MaxResults,
			MaxRetries: cfg.MaxRetries,
			Timeout:    cfg.Timeout,
		})
	}
	if err != nil {
		return nil, err
	}
	return detector.NewGuard(det, detector.GuardConfig{
		RatePerSecond:   cfg.RatePerSecond,
		Burst:           cfg.Burst,
		BreakerFailures: cfg.BreakerFailures,
		BreakerTimeout:  cfg.BreakerTimeout,
	}), nil
}

func buildOutput(cfg config.OutputConfig) (output.Output, error) {
	v, err := output.ParseVerbosity(cfg.Verbosity)
	if err != nil {
		return nil, err
	}

	var out output.Output
	switch cfg.Format {
	case "file", "both":
		f, err := fileout.New(cfg.Path, v, fileout.WithMaxSize(cfg.MaxSize), fileout.WithMaxBackups(cfg.MaxBackups))
		if err != nil {
			return nil, err
		}
		out = f
		if cfg.Format == "both" {
			out = multi.New(stdout.New(v, cfg.Pretty), f)
		}
	case "webhook":
		out = webhook.New(cfg.WebhookURL, webhook.WithVerbosity(v))
	default:
		out = stdout.New(v, cfg.Pretty)
	}

	if cfg.AsyncBuffer > 0 {
		out = async.New(out, async.WithBufferSize(cfg.AsyncBuffer))
	}
	return out, nil
}
