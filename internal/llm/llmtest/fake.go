// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"github.com/estio/agentcore/internal/llm"
)

// Reply is one scripted answer
type Reply struct {
	Text  string
	Usage llm.Usage
	Err   error
}

// Fake answers requests by matching a substring of the system prompt or user
// content, falling back to Default. It records every request.
type Fake struct {
	mu       sync.Mutex
	rules    []rule
	Default  Reply
	requests []llm.Request
	// Block, when set, makes every call wait for ctx to end
	Block bool
}

type rule struct {
	match string
	reply Reply
}

// On scripts a reply for requests whose prompt contains match
func (f *Fake) On(match string, reply Reply) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{match: match, reply: reply})
	return f
}

func (f *Fake) Generate(ctx context.Context, req llm.Request) (string, error) {
	resp, err := f.GenerateWithUsage(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (f *Fake) GenerateWithUsage(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	reply := f.Default
	for _, r := range f.rules {
		if strings.Contains(req.SystemPrompt, r.match) || strings.Contains(req.UserContent, r.match) {
			reply = r.reply
			break
		}
	}
	block := f.Block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &llm.Response{Text: reply.Text, Usage: reply.Usage, Model: req.Model}, nil
}

// Requests returns a copy of the recorded requests
func (f *Fake) Requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.requests...)
}
