package ratecontrol

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

type bucket struct {
	limit    RateLimit
	requests *rate.Limiter
	tokens   *rate.Limiter
}

// Pacer blocks model calls so each provider/tier pair stays under its limits.
// Limiters are rebuilt when the underlying Limits change after a reload.
type Pacer struct {
	limits  *Limits
	mu      sync.Mutex
	buckets map[string]*bucket
}

func NewPacer(limits *Limits) *Pacer {
	return &Pacer{limits: limits, buckets: make(map[string]*bucket)}
}

// Wait blocks until one request of estimatedTokens may proceed or ctx ends
func (p *Pacer) Wait(ctx context.Context, provider, tier string, estimatedTokens int) error {
	if p == nil || p.limits == nil {
		return nil
	}
	b := p.bucket(provider, tier)
	if b.requests != nil {
		if err := b.requests.Wait(ctx); err != nil {
			return err
		}
	}
	if b.tokens != nil && estimatedTokens > 0 {
		n := min(estimatedTokens, b.tokens.Burst())
		if err := b.tokens.WaitN(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pacer) bucket(provider, tier string) *bucket {
	limit := p.limits.For(provider, tier)
	key := normalize(provider) + "|" + normalize(tier)

	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.buckets[key]; ok && b.limit == limit {
		return b
	}
	b := &bucket{limit: limit}
	if limit.RPM > 0 {
		b.requests = rate.NewLimiter(rate.Limit(float64(limit.RPM)/60.0), max(1, limit.RPM/10))
	}
	if limit.TPM > 0 {
		b.tokens = rate.NewLimiter(rate.Limit(float64(limit.TPM)/60.0), limit.TPM)
	}
	p.buckets[key] = b
	return b
}
