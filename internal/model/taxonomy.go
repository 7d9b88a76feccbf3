package model

// Category is one axis of the attribute taxonomy with its ordered candidates.
type Category struct {
	Name       string
	Candidates []string
	// Divisor rescales the fused scores of this category. 1 means no rescaling.
	Divisor float64
}

// EmbeddedCategory is a category with one pre-computed vector per candidate,
// index-aligned with Candidates.
type EmbeddedCategory struct {
	Category
	Vectors [][]float32
}
