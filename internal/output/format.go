package output

import "github.com/crimson-sun/swatch/internal/model"

// FormatRecord returns a copy of the record with fields stripped according
// to verbosity. The input is never modified.
func FormatRecord(r model.Record, verbosity Verbosity) model.Record {
	if verbosity < Full {
		r.Flat = nil
	}
	if verbosity == Minimal && r.Attributes != nil {
		slim := make(model.Classification, len(r.Attributes))
		for cat, res := range r.Attributes {
			res.DetailedScores = nil
			slim[cat] = res
		}
		r.Attributes = slim
	}
	return r
}
