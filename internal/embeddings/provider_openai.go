package embeddings

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/circuitbreaker"
)

// OpenAIProvider uses the OpenAI-compatible /embeddings endpoint
type OpenAIProvider struct {
	client     *openai.Client
	dimensions int
	breaker    *circuitbreaker.CircuitBreaker
}

func NewOpenAIProvider(apiKey, baseURL string, dimensions int, httpClient *http.Client, logger *zap.Logger) *OpenAIProvider {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	client := openai.NewClient(opts...)
	return &OpenAIProvider{
		client:     &client,
		dimensions: dimensions,
		breaker:    circuitbreaker.New("embeddings-openai", "embeddings", circuitbreaker.HTTPSettings(), logger),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(model),
	}
	if p.dimensions > 0 {
		params.Dimensions = openai.Int(int64(p.dimensions))
	}
	resp, err := circuitbreaker.Call(ctx, p.breaker, func() (*openai.CreateEmbeddingResponse, error) {
		return p.client.Embeddings.New(ctx, params)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d texts", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai returned embedding index %d out of range", d.Index)
		}
		out[d.Index] = toFloat32(d.Embedding)
	}
	return out, nil
}
