package taxonomy

import "github.com/crimson-sun/swatch/internal/model"

// DefaultAttributes returns the flat attribute record with every candidate
// of every category set to 0.
func (t *Taxonomy) DefaultAttributes() map[string]float64 {
	m := make(map[string]float64, t.Size())
	for _, c := range t.categories {
		for _, cand := range c.Candidates {
			m[cand] = 0
		}
	}
	return m
}

// Merge copies detailed scores from a classification into a fresh default
// record. Keys outside the taxonomy are ignored. Categories are applied in
// taxonomy order, so a candidate name shared by two categories keeps the
// later category's score.
func (t *Taxonomy) Merge(c model.Classification) map[string]float64 {
	flat := t.DefaultAttributes()
	for _, cat := range t.categories {
		res, ok := c[cat.Name]
		if !ok {
			continue
		}
		for k, v := range res.DetailedScores {
			if _, known := flat[k]; known {
				flat[k] = v
			}
		}
	}
	return flat
}
