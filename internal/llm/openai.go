package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/circuitbreaker"
	"github.com/estio/agentcore/internal/config"
	"github.com/estio/agentcore/internal/metrics"
	"github.com/estio/agentcore/internal/ratecontrol"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint
// (OpenAI itself, or a Gemini/LiteLLM gateway via BaseURL).
type OpenAIClient struct {
	client   *openai.Client
	provider string
	timeout  time.Duration
	pacer    *ratecontrol.Pacer
	breaker  *circuitbreaker.CircuitBreaker
	logger   *zap.Logger
}

// OpenAIOption customises the client at construction
type OpenAIOption func(*openAIOptions)

type openAIOptions struct {
	httpClient *http.Client
	pacer      *ratecontrol.Pacer
}

func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(o *openAIOptions) { o.httpClient = c }
}

func WithPacer(p *ratecontrol.Pacer) OpenAIOption {
	return func(o *openAIOptions) { o.pacer = p }
}

func NewOpenAIClient(cfg config.LLMConfig, logger *zap.Logger, opts ...OpenAIOption) *OpenAIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o openAIOptions
	for _, fn := range opts {
		fn(&o)
	}

	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if o.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(o.httpClient))
	}
	client := openai.NewClient(reqOpts...)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}
	return &OpenAIClient{
		client:   &client,
		provider: provider,
		timeout:  timeout,
		pacer:    o.pacer,
		breaker:  circuitbreaker.New("llm-"+provider, "llm", circuitbreaker.LLMSettings(), logger),
		logger:   logger,
	}
}

func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := c.GenerateWithUsage(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (c *OpenAIClient) GenerateWithUsage(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.pacer.Wait(ctx, c.provider, req.Tier, EstimateTokens(req)); err != nil {
		return nil, c.wrapErr(ctx, err)
	}

	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: buildMessages(req),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	start := time.Now()
	completion, err := circuitbreaker.Call(ctx, c.breaker, func() (*openai.ChatCompletion, error) {
		return c.client.Chat.Completions.New(ctx, params)
	})
	metrics.LLMLatency.WithLabelValues(c.provider, req.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMRequests.WithLabelValues(c.provider, req.Model, "error").Inc()
		c.logger.Warn("Model call failed",
			zap.String("model", req.Model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, c.wrapErr(ctx, err)
	}
	if len(completion.Choices) == 0 {
		metrics.LLMRequests.WithLabelValues(c.provider, req.Model, "empty").Inc()
		return nil, ErrEmptyResponse
	}
	metrics.LLMRequests.WithLabelValues(c.provider, req.Model, "success").Inc()

	model := completion.Model
	if model == "" {
		model = req.Model
	}
	return &Response{
		Text:  completion.Choices[0].Message.Content,
		Usage: usageFrom(completion.Usage),
		Model: model,
	}, nil
}

func (c *OpenAIClient) wrapErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	return err
}

func buildMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	return append(messages, openai.UserMessage(req.UserContent))
}

// Reasoning tokens are billed as output but reported inside completion
// tokens; split them out so pricing sees them as thoughts.
func usageFrom(u openai.CompletionUsage) Usage {
	reasoning := int(u.CompletionTokensDetails.ReasoningTokens)
	completion := int(u.CompletionTokens) - reasoning
	if completion < 0 {
		completion = 0
	}
	return Usage{
		PromptTokens:     int(u.PromptTokens),
		CompletionTokens: completion,
		TotalTokens:      int(u.TotalTokens),
		ThoughtsTokens:   reasoning,
	}
}
