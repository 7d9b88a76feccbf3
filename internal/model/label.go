package model

// DetectedLabel is one output of an image-label detector.
type DetectedLabel struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}
