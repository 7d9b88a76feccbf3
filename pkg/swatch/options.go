package swatch

import (
	"path/filepath"
	"time"
)

type options struct {
	embedder     Embedder
	modelDir     string
	detector     Detector
	textGate     string
	concurrency  int
	timeout      time.Duration
	taxonomyFile string
}

// Option configures a Swatch instance.
type Option func(*options)

// WithEmbedder supplies the embedding backend. The Swatch takes ownership
// and closes it on Close. Overrides WithModelDir.
func WithEmbedder(e Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithModelDir sets the directory of the local ONNX encoder.
// Expects: model.onnx, tokenizer.json and optionally 2_Dense/model.safetensors.
// The model is loaded on first use.
func WithModelDir(dir string) Option {
	return func(o *options) { o.modelDir = dir }
}

// WithDetector sets the image label detector used by Analyze. Calls are
// rate limited and guarded by a circuit breaker.
func WithDetector(d Detector) Option {
	return func(o *options) { o.detector = d }
}

// WithTextGate selects which candidates the text semantic pass may score:
// "zero" (default) or "below_bonus".
func WithTextGate(gate string) Option {
	return func(o *options) { o.textGate = gate }
}

// WithConcurrency bounds how many categories are scored at once. Default: 10.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithTimeout bounds one Classify or Analyze call. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithTaxonomyFile replaces the built-in taxonomy with a YAML file.
func WithTaxonomyFile(path string) Option {
	return func(o *options) { o.taxonomyFile = path }
}

func defaultOptions() options {
	return options{modelDir: "models", textGate: "zero"}
}

// resolvePaths returns the encoder files under dir. The projection is
// optional and only used when present.
func resolvePaths(dir string) (model, tokenizer, projection string) {
	return filepath.Join(dir, "model.onnx"),
		filepath.Join(dir, "tokenizer.json"),
		filepath.Join(dir, "2_Dense", "model.safetensors")
}
