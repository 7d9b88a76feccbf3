package output

import (
	"context"
	"fmt"
	"strings"

	"github.com/crimson-sun/swatch/internal/model"
)

// Output defines the interface for classified record destinations.
type Output interface {
	Write(ctx context.Context, rec model.Record) error
	Close() error
}

// Verbosity controls how much of a record is written.
type Verbosity int

const (
	// Minimal keeps the chosen value and score per category.
	Minimal Verbosity = iota
	// Standard adds the per-candidate scores.
	Standard
	// Full adds the flat attribute record over the whole taxonomy.
	Full
)

func (v Verbosity) String() string {
	switch v {
	case Minimal:
		return "minimal"
	case Full:
		return "full"
	default:
		return "standard"
	}
}

// ParseVerbosity maps a config string to a Verbosity. Empty means Standard.
func ParseVerbosity(s string) (Verbosity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal":
		return Minimal, nil
	case "", "standard":
		return Standard, nil
	case "full":
		return Full, nil
	}
	return Standard, fmt.Errorf("output: unknown verbosity %q", s)
}
