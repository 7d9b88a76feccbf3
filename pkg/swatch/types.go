package swatch

import (
	"context"

	"github.com/crimson-sun/swatch/internal/detector"
	"github.com/crimson-sun/swatch/internal/engine"
	"github.com/crimson-sun/swatch/internal/model"
)

// Error classes. Use errors.Is to tell them apart.
var (
	ErrLabelDetection = engine.ErrLabelDetection
	ErrEmbedding      = engine.ErrEmbedding
)

// Label is one output of an image-label detector.
type Label struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"` // confidence in [0, 1]
}

// Result is the winning candidate of one category together with the full
// score vector it was picked from.
type Result struct {
	Chosen         string             `json:"chosen"`
	Score          float64            `json:"score"`
	DetailedScores map[string]float64 `json:"detailedScores"`
}

// Image references a picture to label. Data takes precedence over URL.
type Image struct {
	URL      string
	Data     []byte
	MIMEType string
}

// Analysis is the outcome of Analyze.
type Analysis struct {
	Labels           []Label           `json:"labels"`
	BasicDescription string            `json:"basicDescription"`
	Attributes       map[string]Result `json:"attributes"`
}

// Category is one taxonomy axis with its candidates in declaration order.
type Category struct {
	Name       string
	Candidates []string
}

// Embedder maps text to vectors. EmbedBatch must preserve input order and
// both methods must accept the empty string.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Close() error
}

// Detector labels an image.
type Detector interface {
	Detect(ctx context.Context, img Image) ([]Label, error)
	Name() string
}

// detectorAdapter lets a public Detector serve the engine.
type detectorAdapter struct {
	d Detector
}

func (a detectorAdapter) Name() string { return a.d.Name() }

func (a detectorAdapter) Detect(ctx context.Context, img detector.Image) ([]model.DetectedLabel, error) {
	labels, err := a.d.Detect(ctx, Image{URL: img.URL, Data: img.Data, MIMEType: img.MIMEType})
	if err != nil {
		return nil, err
	}
	return toModelLabels(labels), nil
}

func toModelLabels(in []Label) []model.DetectedLabel {
	if in == nil {
		return nil
	}
	out := make([]model.DetectedLabel, len(in))
	for i, l := range in {
		out[i] = model.DetectedLabel{Description: l.Description, Score: l.Score}
	}
	return out
}

func fromModelLabels(in []model.DetectedLabel) []Label {
	out := make([]Label, len(in))
	for i, l := range in {
		out[i] = Label{Description: l.Description, Score: l.Score}
	}
	return out
}

func fromClassification(c model.Classification) map[string]Result {
	out := make(map[string]Result, len(c))
	for name, r := range c {
		scores := make(map[string]float64, len(r.DetailedScores))
		for k, v := range r.DetailedScores {
			scores[k] = v
		}
		out[name] = Result{Chosen: r.Chosen, Score: r.Score, DetailedScores: scores}
	}
	return out
}
