// Package testdata holds a small labeled product corpus for validating
// classification end to end.
package testdata

import (
	_ "embed"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/crimson-sun/swatch/internal/model"
)

//go:embed corpus.json
var corpusJSON []byte

// Product is a labeled product with the winners it must produce. Expected
// lists only categories settled by an exact match, so the entries hold for
// any embedding backend.
type Product struct {
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Labels      []model.DetectedLabel `json:"labels"`
	Expected    map[string]string     `json:"expected"`
	Note        string                `json:"note"`
}

// LoadCorpus parses the embedded corpus.json and returns all entries.
func LoadCorpus() ([]Product, error) {
	var entries []Product
	if err := json.Unmarshal(corpusJSON, &entries); err != nil {
		return nil, fmt.Errorf("parse corpus.json: %w", err)
	}
	return entries, nil
}
