package pricing

import (
	pmetrics "github.com/estio/agentcore/internal/metrics"
)

// Usage is the token accounting returned by a model call. Providers fill
// different subsets; zero means "not reported".
type Usage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	TotalTokens         int `json:"total_tokens"`
	ThoughtsTokens      int `json:"thoughts_tokens"`
	ToolUsePromptTokens int `json:"tool_use_prompt_tokens"`
}

// Add sums two usages field by field
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:        u.PromptTokens + o.PromptTokens,
		CompletionTokens:    u.CompletionTokens + o.CompletionTokens,
		TotalTokens:         u.TotalTokens + o.TotalTokens,
		ThoughtsTokens:      u.ThoughtsTokens + o.ThoughtsTokens,
		ToolUsePromptTokens: u.ToolUsePromptTokens + o.ToolUsePromptTokens,
	}
}

type Method string

const (
	MethodExplicit       Method = "explicit_usage_fields"
	MethodInferredGap    Method = "inferred_from_total_gap"
	MethodPromptCompOnly Method = "prompt_completion_only"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Estimate is the billable view of one Usage
type Estimate struct {
	Model        string     `json:"model"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	Cost         float64    `json:"cost_usd"`
	Method       Method     `json:"method"`
	Confidence   Confidence `json:"confidence"`
	HighContext  bool       `json:"high_context"`
	RateMatch    Match      `json:"rate_match"`
}

// Cost estimates the USD cost of u for model. The method reflects which usage
// fields the provider actually returned: explicit thought/tool-use buckets are
// trusted, a total larger than the known buckets is billed as hidden output,
// and bare prompt/completion counts are taken at face value.
func Cost(model string, u Usage) Estimate {
	u = clampUsage(u)

	known := u.PromptTokens + u.CompletionTokens + u.ThoughtsTokens + u.ToolUsePromptTokens
	gap := 0
	if u.TotalTokens > known {
		gap = u.TotalTokens - known
	}

	var method Method
	var confidence Confidence
	switch {
	case u.ThoughtsTokens > 0 || u.ToolUsePromptTokens > 0:
		method, confidence = MethodExplicit, ConfidenceHigh
	case gap > 0:
		method, confidence = MethodInferredGap, ConfidenceMedium
	default:
		method, confidence = MethodPromptCompOnly, ConfidenceLow
	}

	input := u.PromptTokens + u.ToolUsePromptTokens
	output := u.CompletionTokens + u.ThoughtsTokens + gap

	rates, match := RatesFor(model)
	inRate, outRate := rates.InputPerM, rates.OutputPerM
	high := input > HighContextThreshold(model)
	if high {
		if rates.InputPerMHC > 0 {
			inRate = rates.InputPerMHC
		}
		if rates.OutputPerMHC > 0 {
			outRate = rates.OutputPerMHC
		}
	}

	cost := float64(input)/1_000_000*inRate + float64(output)/1_000_000*outRate

	pmetrics.RecordLLMUsage(model, string(method), input, output, cost)

	return Estimate{
		Model:        model,
		InputTokens:  input,
		OutputTokens: output,
		Cost:         cost,
		Method:       method,
		Confidence:   confidence,
		HighContext:  high,
		RateMatch:    match,
	}
}

func clampUsage(u Usage) Usage {
	if u.PromptTokens < 0 {
		u.PromptTokens = 0
	}
	if u.CompletionTokens < 0 {
		u.CompletionTokens = 0
	}
	if u.TotalTokens < 0 {
		u.TotalTokens = 0
	}
	if u.ThoughtsTokens < 0 {
		u.ThoughtsTokens = 0
	}
	if u.ToolUsePromptTokens < 0 {
		u.ToolUsePromptTokens = 0
	}
	return u
}
