// Package detector turns a product image into a list of scored labels.
package detector

import (
	"context"
	"errors"

	"github.com/crimson-sun/swatch/internal/model"
)

// ErrNoImage is returned when an Image carries neither a URL nor bytes.
var ErrNoImage = errors.New("detector: image has no url or data")

// Image references the picture to label. Data takes precedence over URL.
type Image struct {
	URL      string
	Data     []byte
	MIMEType string
}

// Empty reports whether the image carries nothing to detect.
func (i Image) Empty() bool {
	return i.URL == "" && len(i.Data) == 0
}

// Detector produces labels for one image.
type Detector interface {
	Detect(ctx context.Context, img Image) ([]model.DetectedLabel, error)
	Name() string
}

// Static returns a fixed label set or error. Used for tests and for items
// that arrive with labels already attached.
type Static struct {
	Labels []model.DetectedLabel
	Err    error
}

func (s Static) Detect(ctx context.Context, _ Image) ([]model.DetectedLabel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]model.DetectedLabel, len(s.Labels))
	copy(out, s.Labels)
	return out, nil
}

func (Static) Name() string { return "static" }
