package embedder

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/crimson-sun/swatch/internal/metrics"
)

const (
	openAIMaxBatch     = 2048
	openAIDefaultModel = "text-embedding-3-small"
)

// OpenAIConfig configures the remote embedder. BaseURL allows any
// OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	Dimensions int
	BaseURL    string
	HTTPClient *http.Client
}

// OpenAI embeds through the OpenAI embeddings API.
type OpenAI struct {
	client *openai.Client
	model  string
	dim    int
}

// NewOpenAI creates a remote embedder.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedder: openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(cfg.HTTPClient),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAI{client: &client, model: cfg.Model, dim: cfg.Dimensions}, nil
}

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch splits large inputs into API-sized requests. The API rejects
// empty strings, so those map to a zero vector without a request; their
// similarity to anything is then 0.
func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		pending []string
		slots   []int
	)
	for i, t := range texts {
		if t == "" {
			continue
		}
		pending = append(pending, t)
		slots = append(slots, i)
	}

	for start := 0; start < len(pending); start += openAIMaxBatch {
		end := min(start+openAIMaxBatch, len(pending))
		vecs, err := o.call(ctx, pending[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedder: openai batch [%d:%d]: %w", start, end, err)
		}
		for j, v := range vecs {
			out[slots[start+j]] = v
		}
	}

	dim := o.dim
	for _, v := range out {
		if v != nil {
			dim = len(v)
			break
		}
	}
	for i := range out {
		if out[i] == nil {
			out[i] = make([]float32, dim)
		}
	}
	return out, nil
}

func (o *OpenAI) call(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model:          o.model,
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if o.dim > 0 {
		params.Dimensions = openai.Int(int64(o.dim))
	}

	metrics.EmbedRequests.WithLabelValues("openai").Inc()
	resp, err := o.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}

	vecs := make([][]float32, len(texts))
	for _, item := range resp.Data {
		idx := item.Index
		if idx < 0 || idx >= int64(len(texts)) {
			return nil, fmt.Errorf("unexpected embedding index %d for batch size %d", idx, len(texts))
		}
		v := make([]float32, len(item.Embedding))
		for k, f := range item.Embedding {
			v[k] = float32(f)
		}
		vecs[idx] = v
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for index %d", i)
		}
	}
	return vecs, nil
}

func (o *OpenAI) Close() error { return nil }
