// Package taxonomy loads the fixed product attribute taxonomy together with
// the synonym table and banned detector labels used for matching.
package taxonomy

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/crimson-sun/swatch/internal/model"
)

//go:embed taxonomy.yaml
var defaultYAML []byte

// Taxonomy is the read-only category table plus matching rules. It is
// loaded once at startup and shared by every classification.
type Taxonomy struct {
	categories    []model.Category
	index         map[string]int
	normalization map[string]string
	banned        []string
}

type document struct {
	Categories []struct {
		Name       string   `yaml:"name"`
		Divisor    float64  `yaml:"divisor"`
		Candidates []string `yaml:"candidates"`
	} `yaml:"categories"`
	Normalization map[string]string `yaml:"normalization"`
	Banned        []string          `yaml:"banned"`
}

// Default returns the embedded taxonomy.
func Default() (*Taxonomy, error) {
	return Parse(defaultYAML)
}

// Load reads a taxonomy from a YAML file. An empty path yields the
// embedded default.
func Load(path string) (*Taxonomy, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("taxonomy: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML taxonomy document.
func Parse(data []byte) (*Taxonomy, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("taxonomy: parse: %w", err)
	}

	t := &Taxonomy{
		index:         make(map[string]int, len(doc.Categories)),
		normalization: make(map[string]string, len(doc.Normalization)),
	}
	for _, c := range doc.Categories {
		divisor := c.Divisor
		if divisor == 0 {
			divisor = 1
		}
		t.categories = append(t.categories, model.Category{
			Name:       c.Name,
			Candidates: append([]string(nil), c.Candidates...),
			Divisor:    divisor,
		})
	}
	for k, v := range doc.Normalization {
		t.normalization[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
	}
	for _, b := range doc.Banned {
		t.banned = append(t.banned, strings.ToLower(strings.TrimSpace(b)))
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	for i, c := range t.categories {
		t.index[c.Name] = i
	}
	return t, nil
}

// Validate checks the table for internal consistency.
func (t *Taxonomy) Validate() error {
	if len(t.categories) == 0 {
		return fmt.Errorf("taxonomy: no categories")
	}
	seenCat := make(map[string]bool, len(t.categories))
	for _, c := range t.categories {
		if c.Name == "" {
			return fmt.Errorf("taxonomy: category with empty name")
		}
		if seenCat[c.Name] {
			return fmt.Errorf("taxonomy: duplicate category %q", c.Name)
		}
		seenCat[c.Name] = true

		if len(c.Candidates) == 0 {
			return fmt.Errorf("taxonomy: category %q has no candidates", c.Name)
		}
		if c.Divisor <= 0 {
			return fmt.Errorf("taxonomy: category %q has non-positive divisor %v", c.Name, c.Divisor)
		}
		seen := make(map[string]bool, len(c.Candidates))
		for _, cand := range c.Candidates {
			if strings.TrimSpace(cand) == "" {
				return fmt.Errorf("taxonomy: category %q has an empty candidate", c.Name)
			}
			if seen[cand] {
				return fmt.Errorf("taxonomy: category %q has duplicate candidate %q", c.Name, cand)
			}
			seen[cand] = true
		}
	}
	// A mapped value that is itself a key would make normalization
	// non-idempotent.
	for k, v := range t.normalization {
		if v == k {
			return fmt.Errorf("taxonomy: normalization %q maps to itself", k)
		}
		if _, chained := t.normalization[v]; chained {
			return fmt.Errorf("taxonomy: normalization %q -> %q chains into another entry", k, v)
		}
	}
	return nil
}

// Categories returns the categories in declared order. Callers must not
// modify the returned slice.
func (t *Taxonomy) Categories() []model.Category {
	return t.categories
}

// Category looks up a category by name.
func (t *Taxonomy) Category(name string) (model.Category, bool) {
	i, ok := t.index[name]
	if !ok {
		return model.Category{}, false
	}
	return t.categories[i], true
}

// Normalization returns a copy of the synonym table.
func (t *Taxonomy) Normalization() map[string]string {
	m := make(map[string]string, len(t.normalization))
	for k, v := range t.normalization {
		m[k] = v
	}
	return m
}

// Banned returns a copy of the banned label list.
func (t *Taxonomy) Banned() []string {
	return append([]string(nil), t.banned...)
}

// Size returns the total number of candidates across all categories.
func (t *Taxonomy) Size() int {
	n := 0
	for _, c := range t.categories {
		n += len(c.Candidates)
	}
	return n
}
