package llm

import (
	"context"
	"errors"

	"github.com/estio/agentcore/internal/pricing"
)

// Usage is the token accounting of one model call
type Usage = pricing.Usage

// Request is one single-turn generation. Model is a concrete model id; use a
// Router to pick one from a task or effort tier.
type Request struct {
	Model        string
	SystemPrompt string
	UserContent  string
	JSONMode     bool
	Temperature  *float64
	MaxTokens    int
	// Tier is the effort tier used for provider pacing (flash, standard, premium)
	Tier string
}

// Response carries the generated text with provider usage
type Response struct {
	Text  string
	Usage Usage
	Model string
}

// Client is the narrow language model contract used across the pipeline
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
	GenerateWithUsage(ctx context.Context, req Request) (*Response, error)
}

var (
	ErrEmptyResponse = errors.New("model returned no choices")
	ErrTimeout       = errors.New("model call timed out")
)

// Temperature is a convenience for Request.Temperature
func Temperature(t float64) *float64 {
	return &t
}

// EstimateTokens is a rough 4-chars-per-token guess used for pacing
func EstimateTokens(req Request) int {
	n := (len(req.SystemPrompt) + len(req.UserContent)) / 4
	if req.MaxTokens > 0 {
		n += req.MaxTokens
	}
	return n
}
