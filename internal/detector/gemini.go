package detector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"google.golang.org/genai"

	"github.com/crimson-sun/swatch/internal/model"
)

// DefaultGeminiModel is used when GeminiConfig.Model is empty.
const DefaultGeminiModel = "gemini-2.5-flash"

const maxImageBytes = 10 << 20

const labelPrompt = `List the visual attributes of the clothing item in this image: colors, materials, garment type, patterns, embellishments and style. ` +
	`Return at most %d labels as a JSON array of objects with "description" (a short lower-case noun phrase) and "score" (confidence between 0 and 1), most confident first.`

// GeminiConfig configures the Gemini label detector.
type GeminiConfig struct {
	APIKey     string
	Model      string
	MaxResults int
	// HTTPClient downloads images given by URL.
	HTTPClient *http.Client
}

// Gemini asks a multimodal model for a scored label list.
type Gemini struct {
	client     *genai.Client
	model      string
	maxResults int
	http       *http.Client
}

// NewGemini creates a Gemini detector.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("detector: gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("detector: gemini client: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Gemini{client: client, model: cfg.Model, maxResults: cfg.MaxResults, http: hc}, nil
}

func (g *Gemini) Name() string { return "gemini" }

var labelSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"description": {Type: genai.TypeString},
			"score":       {Type: genai.TypeNumber},
		},
		Required: []string{"description", "score"},
	},
}

func (g *Gemini) Detect(ctx context.Context, img Image) ([]model.DetectedLabel, error) {
	if img.Empty() {
		return nil, ErrNoImage
	}
	data, mime := img.Data, img.MIMEType
	if len(data) == 0 {
		var err error
		if data, mime, err = fetchImage(ctx, g.http, img.URL); err != nil {
			return nil, fmt.Errorf("detector: gemini: %w", err)
		}
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}

	contents := []*genai.Content{genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromBytes(data, mime),
		genai.NewPartFromText(fmt.Sprintf(labelPrompt, g.maxResults)),
	}, genai.RoleUser)}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   labelSchema,
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("detector: gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("detector: gemini: no candidates")
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	labels, err := parseLabels(sb.String(), g.maxResults)
	if err != nil {
		return nil, fmt.Errorf("detector: gemini: %w", err)
	}
	return labels, nil
}

// parseLabels decodes a model answer into labels. Scores are clamped to
// [0, 1], empty descriptions dropped and the list cut to limit entries.
func parseLabels(text string, limit int) ([]model.DetectedLabel, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var raw []model.DetectedLabel
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &raw); err != nil {
		return nil, fmt.Errorf("decode labels: %w", err)
	}
	labels := make([]model.DetectedLabel, 0, len(raw))
	for _, l := range raw {
		l.Description = strings.TrimSpace(l.Description)
		if l.Description == "" {
			continue
		}
		l.Score = min(max(l.Score, 0), 1)
		labels = append(labels, l)
		if limit > 0 && len(labels) == limit {
			break
		}
	}
	return labels, nil
}

func fetchImage(ctx context.Context, hc *http.Client, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("fetch image: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("fetch image: larger than %d bytes", maxImageBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
