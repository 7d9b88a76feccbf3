// Package scorer scores one category's candidates against one signal
// source. An exact match assigns a fixed bonus and embedding similarity
// ranks everything else.
package scorer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/crimson-sun/swatch/internal/engine/embedder"
	"github.com/crimson-sun/swatch/internal/engine/normalize"
	"github.com/crimson-sun/swatch/internal/model"
)

// ErrDimensionMismatch means a text vector and the candidate vectors came
// from differently shaped embedding spaces.
var ErrDimensionMismatch = errors.New("embedding dimensions differ")

// Gate selects which candidates the text semantic pass may score. After
// the exact pass every score is either 0 or bonus*weight, so the two gates
// only diverge when bonus*weight is not positive.
type Gate string

const (
	// GateZero scores only candidates whose score is still exactly 0.
	GateZero Gate = "zero"
	// GateBelowBonus scores every candidate below the exact-match bonus,
	// the same rule the label path uses.
	GateBelowBonus Gate = "below_bonus"
)

// ParseGate validates a gate name. The empty string selects GateZero.
func ParseGate(s string) (Gate, error) {
	switch Gate(s) {
	case "", GateZero:
		return GateZero, nil
	case GateBelowBonus:
		return GateBelowBonus, nil
	}
	return "", fmt.Errorf("scorer: unknown text gate %q", s)
}

// Config holds the confidence thresholds and the text gate.
type Config struct {
	ExactThreshold    float64 // labels at or above this may exact-match
	SemanticThreshold float64 // labels at or above this join the semantic pass
	TextGate          Gate
}

// DefaultConfig returns the calibrated thresholds.
func DefaultConfig() Config {
	return Config{ExactThreshold: 0.65, SemanticThreshold: 0.3, TextGate: GateZero}
}

// Scorer is safe for concurrent use. Score vectors are local to each call.
type Scorer struct {
	emb  embedder.Embedder
	norm *normalize.Normalizer
	cfg  Config
}

// New creates a Scorer.
func New(emb embedder.Embedder, norm *normalize.Normalizer, cfg Config) *Scorer {
	if cfg.TextGate == "" {
		cfg.TextGate = GateZero
	}
	return &Scorer{emb: emb, norm: norm, cfg: cfg}
}

// FromLabels scores candidates against detector labels.
//
// Exact pass: a confident, non-banned label whose normalized form equals a
// candidate's lower-cased name raises it to bonus*weight. Repeated matches
// do not stack.
//
// Semantic pass: every label at or above the semantic threshold adds
// cos(candidate, label) * confidence * weight * meanConfidence to each
// candidate still below bonus*weight. The pass is skipped when no label
// qualifies.
func (s *Scorer) FromLabels(ctx context.Context, labels []model.DetectedLabel, cat model.EmbeddedCategory, weight, bonus float64) (model.ScoreVector, error) {
	scores := zeroScores(cat.Candidates)
	fixed := bonus * weight
	lowered := lowerAll(cat.Candidates)

	for _, l := range labels {
		if l.Score < s.cfg.ExactThreshold || s.norm.IsBanned(l.Description) {
			continue
		}
		n := s.norm.Normalize(l.Description)
		for i, c := range cat.Candidates {
			if n == lowered[i] {
				scores[c] = max(scores[c], fixed)
			}
		}
	}

	var semantic []model.DetectedLabel
	var sum float64
	for _, l := range labels {
		if l.Score >= s.cfg.SemanticThreshold {
			semantic = append(semantic, l)
			sum += l.Score
		}
	}
	if len(semantic) == 0 {
		return scores, nil
	}
	mean := sum / float64(len(semantic))

	texts := make([]string, len(semantic))
	for i, l := range semantic {
		texts[i] = l.Description
	}
	vecs, err := s.emb.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("scorer: embed labels: %w", err)
	}
	for _, v := range vecs {
		if err := checkDims(cat, v); err != nil {
			return nil, err
		}
	}

	for j, l := range semantic {
		for i, c := range cat.Candidates {
			if scores[c] < fixed {
				sim := embedder.Cosine(cat.Vectors[i], vecs[j])
				scores[c] += sim * l.Score * weight * mean
			}
		}
	}
	return scores, nil
}

// FromText scores candidates against free text.
//
// Exact pass: a candidate whose lower-cased name equals the normalized form
// of any token gets exactly bonus*weight.
//
// Semantic pass: the whole text is embedded once and each candidate passing
// the gate is assigned cos(candidate, text) * weight. This is an
// assignment, not an accumulation.
func (s *Scorer) FromText(ctx context.Context, text string, cat model.EmbeddedCategory, weight, bonus float64) (model.ScoreVector, error) {
	scores := zeroScores(cat.Candidates)
	fixed := bonus * weight

	tokens := normalize.Tokenize(text)
	normTokens := make([]string, len(tokens))
	for i, tok := range tokens {
		normTokens[i] = s.norm.Normalize(tok)
	}
	lowered := lowerAll(cat.Candidates)
	for i, c := range cat.Candidates {
		for _, tok := range normTokens {
			if tok == lowered[i] {
				scores[c] = fixed
				break
			}
		}
	}

	vec, err := s.emb.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("scorer: embed text: %w", err)
	}
	if err := checkDims(cat, vec); err != nil {
		return nil, err
	}

	for i, c := range cat.Candidates {
		if !s.passesGate(scores[c], fixed) {
			continue
		}
		scores[c] = embedder.Cosine(cat.Vectors[i], vec) * weight
	}
	return scores, nil
}

// checkDims rejects v when its length differs from the candidate vectors.
// A zero-length v carries no signal and passes.
func checkDims(cat model.EmbeddedCategory, v []float32) error {
	if len(v) == 0 {
		return nil
	}
	for i, cv := range cat.Vectors {
		if len(cv) != len(v) {
			return fmt.Errorf("scorer: %s %q has %d dims, text has %d: %w",
				cat.Name, cat.Candidates[i], len(cv), len(v), ErrDimensionMismatch)
		}
	}
	return nil
}

func (s *Scorer) passesGate(score, fixed float64) bool {
	if s.cfg.TextGate == GateBelowBonus {
		return score < fixed
	}
	return score == 0
}

func zeroScores(candidates []string) model.ScoreVector {
	scores := make(model.ScoreVector, len(candidates))
	for _, c := range candidates {
		scores[c] = 0
	}
	return scores
}

func lowerAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(s)
	}
	return out
}
