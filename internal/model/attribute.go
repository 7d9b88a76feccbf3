package model

// ScoreVector maps candidate name to accumulated score for one category.
type ScoreVector map[string]float64

// AttributeResult is the winning candidate of one category and the full
// score vector it was chosen from.
type AttributeResult struct {
	Chosen         string      `json:"chosen"`
	Score          float64     `json:"score"`
	DetailedScores ScoreVector `json:"detailedScores,omitempty"`
}

// Classification maps category name to its result.
type Classification map[string]AttributeResult
