// Package normalize canonicalizes detector labels and text tokens before
// exact matching against taxonomy candidates.
package normalize

import (
	"regexp"
	"strings"

	"github.com/crimson-sun/swatch/internal/model"
)

var tokenSplit = regexp.MustCompile(`[\s,.;:!?]+`)

// Normalizer folds synonyms and filters banned labels. It is immutable and
// safe for concurrent use.
type Normalizer struct {
	synonyms map[string]string
	banned   map[string]bool
}

// New builds a Normalizer from a synonym table and banned label list. Keys
// are folded the same way inputs are.
func New(synonyms map[string]string, banned []string) *Normalizer {
	n := &Normalizer{
		synonyms: make(map[string]string, len(synonyms)),
		banned:   make(map[string]bool, len(banned)),
	}
	for k, v := range synonyms {
		n.synonyms[fold(k)] = fold(v)
	}
	for _, b := range banned {
		n.banned[fold(b)] = true
	}
	return n
}

// fold lower-cases and trims. Compatibility forms such as full-width
// letters are left alone, so "Ｒｅｄ" never exact-matches "Red".
func fold(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

// Normalize returns the canonical form of a label or token. Total and pure.
func (n *Normalizer) Normalize(label string) string {
	f := fold(label)
	if v, ok := n.synonyms[f]; ok {
		return v
	}
	return f
}

// IsBanned reports whether a detector label is excluded from exact matching.
func (n *Normalizer) IsBanned(label string) bool {
	return n.banned[fold(label)]
}

// Tokenize lower-cases text and splits it on whitespace and punctuation.
// Leading or trailing separators produce empty tokens, which never match a
// candidate.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	return tokenSplit.Split(strings.ToLower(text), -1)
}

// BasicDescription joins the descriptions of confident, non-banned labels
// with ", " in input order.
func (n *Normalizer) BasicDescription(labels []model.DetectedLabel, threshold float64) string {
	var parts []string
	for _, l := range labels {
		if l.Score < threshold || n.IsBanned(l.Description) {
			continue
		}
		parts = append(parts, l.Description)
	}
	return strings.Join(parts, ", ")
}
