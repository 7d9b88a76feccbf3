package detector

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/crimson-sun/swatch/internal/httpclient"
	"github.com/crimson-sun/swatch/internal/model"
)

// DefaultVisionEndpoint is the public Cloud Vision API host.
const DefaultVisionEndpoint = "https://vision.googleapis.com"

// VisionConfig configures the Cloud Vision label detector.
type VisionConfig struct {
	Endpoint   string
	APIKey     string
	MaxResults int
	MaxRetries int
	Timeout    time.Duration
}

// Vision calls the images:annotate endpoint with LABEL_DETECTION.
type Vision struct {
	client     *httpclient.Client
	maxResults int
}

// NewVision creates a Vision detector. The API key is sent as a query
// parameter.
func NewVision(cfg VisionConfig) (*Vision, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("detector: vision api key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultVisionEndpoint
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	opts := []httpclient.Option{
		httpclient.WithQuery("key", cfg.APIKey),
		httpclient.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, httpclient.WithTimeout(cfg.Timeout))
	}
	return &Vision{
		client:     httpclient.New(cfg.Endpoint, opts...),
		maxResults: cfg.MaxResults,
	}, nil
}

type annotateRequest struct {
	Requests []imageRequest `json:"requests"`
}

type imageRequest struct {
	Image    visionImage `json:"image"`
	Features []feature   `json:"features"`
}

type visionImage struct {
	Content string       `json:"content,omitempty"`
	Source  *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	ImageURI string `json:"imageUri"`
}

type feature struct {
	Type       string `json:"type"`
	MaxResults int    `json:"maxResults"`
}

type annotateResponse struct {
	Responses []struct {
		LabelAnnotations []struct {
			Description string  `json:"description"`
			Score       float64 `json:"score"`
		} `json:"labelAnnotations"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"responses"`
}

func (v *Vision) Name() string { return "vision" }

// Detect returns the labels in the order the API ranks them.
func (v *Vision) Detect(ctx context.Context, img Image) ([]model.DetectedLabel, error) {
	if img.Empty() {
		return nil, ErrNoImage
	}
	var vi visionImage
	if len(img.Data) > 0 {
		vi.Content = base64.StdEncoding.EncodeToString(img.Data)
	} else {
		vi.Source = &imageSource{ImageURI: img.URL}
	}
	req := annotateRequest{Requests: []imageRequest{{
		Image:    vi,
		Features: []feature{{Type: "LABEL_DETECTION", MaxResults: v.maxResults}},
	}}}

	var resp annotateResponse
	if err := v.client.PostJSON(ctx, "/v1/images:annotate", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("detector: vision: %w", err)
	}
	if len(resp.Responses) == 0 {
		return nil, errors.New("detector: vision: empty response")
	}
	r := resp.Responses[0]
	if r.Error != nil {
		return nil, fmt.Errorf("detector: vision: %d %s", r.Error.Code, r.Error.Message)
	}

	labels := make([]model.DetectedLabel, 0, len(r.LabelAnnotations))
	for _, a := range r.LabelAnnotations {
		labels = append(labels, model.DetectedLabel{Description: a.Description, Score: a.Score})
	}
	return labels, nil
}
