package swatch

// Taxonomy returns the categories in scoring order. The result is a copy.
func (s *Swatch) Taxonomy() []Category {
	cats := s.taxonomy.Categories()
	out := make([]Category, len(cats))
	for i, c := range cats {
		out[i] = Category{
			Name:       c.Name,
			Candidates: append([]string(nil), c.Candidates...),
		}
	}
	return out
}
