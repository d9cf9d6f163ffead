package ratecontrol

import (
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	RateLimits struct {
		DefaultRPM    int                  `yaml:"default_rpm"`
		DefaultTPM    int                  `yaml:"default_tpm"`
		TierOverrides map[string]RateLimit `yaml:"tier_overrides"`
		Providers     map[string]RateLimit `yaml:"provider_overrides"`
	} `yaml:"rate_limits"`
}

// RateLimit is a requests-per-minute / tokens-per-minute budget. Zero means unlimited.
type RateLimit struct {
	RPM int `yaml:"rpm"`
	TPM int `yaml:"tpm"`
}

var builtInProviderLimits = map[string]RateLimit{
	"openai":  {RPM: 30, TPM: 60000},
	"gemini":  {RPM: 60, TPM: 120000},
	"google":  {RPM: 60, TPM: 120000},
	"unknown": {RPM: 45, TPM: 90000},
}

// Limits holds provider and effort-tier limits loaded from a YAML side file
type Limits struct {
	mu     sync.RWMutex
	cfg    fileConfig
	path   string
	logger *zap.Logger
}

// Load reads limits from path. An empty or missing path yields the built-in
// provider table only.
func Load(path string, logger *zap.Logger) (*Limits, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Limits{path: path, logger: logger}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload re-reads the side file; on parse failure the previous limits stay active
func (l *Limits) Reload() error {
	var cfg fileConfig
	if l.path != "" {
		data, err := os.ReadFile(l.path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return fmt.Errorf("parse rate limits %s: %w", l.path, err)
			}
			l.logger.Info("Loaded rate limit configuration", zap.String("path", l.path))
		case os.IsNotExist(err):
			l.logger.Debug("Rate limit file not found, using built-ins", zap.String("path", l.path))
		default:
			return fmt.Errorf("read rate limits %s: %w", l.path, err)
		}
	}
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
	return nil
}

// ForTier returns the limit for an effort tier (flash, standard, premium)
func (l *Limits) ForTier(tier string) RateLimit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if o, ok := l.cfg.RateLimits.TierOverrides[normalize(tier)]; ok {
		return o
	}
	return RateLimit{RPM: l.cfg.RateLimits.DefaultRPM, TPM: l.cfg.RateLimits.DefaultTPM}
}

// ForProvider returns the configured limit for provider, then the built-in one
func (l *Limits) ForProvider(provider string) RateLimit {
	key := normalize(provider)
	l.mu.RLock()
	o, ok := l.cfg.RateLimits.Providers[key]
	l.mu.RUnlock()
	if ok {
		return o
	}
	if limit, ok := builtInProviderLimits[key]; ok {
		return limit
	}
	return RateLimit{}
}

// For combines the provider and tier limits
func (l *Limits) For(provider, tier string) RateLimit {
	return CombineLimits(l.ForTier(tier), l.ForProvider(provider))
}

// DelayForRequest is the minimum spacing for one request of estimatedTokens
func (l *Limits) DelayForRequest(provider, tier string, estimatedTokens int) time.Duration {
	return delayForLimit(l.For(provider, tier), estimatedTokens)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CombineLimits keeps the stricter positive value of each dimension
func CombineLimits(a, b RateLimit) RateLimit {
	limit := RateLimit{
		RPM: minPositive(a.RPM, b.RPM),
		TPM: minPositive(a.TPM, b.TPM),
	}
	return limit
}

func delayForLimit(limit RateLimit, estimatedTokens int) time.Duration {
	if (limit.RPM <= 0 && limit.TPM <= 0) || estimatedTokens < 0 {
		return 0
	}
	var delayMs float64
	if limit.RPM > 0 {
		delayMs = math.Max(delayMs, 60000.0/float64(limit.RPM))
	}
	if limit.TPM > 0 && estimatedTokens > 0 {
		perToken := 60000.0 / float64(limit.TPM)
		delayMs = math.Max(delayMs, perToken*float64(estimatedTokens))
	}
	if delayMs <= 0 {
		return 0
	}
	if delayMs > 60000 {
		delayMs = 60000
	}
	return time.Duration(math.Ceil(delayMs)) * time.Millisecond
}

func minPositive(a, b int) int {
	switch {
	case a <= 0 && b <= 0:
		return 0
	case a <= 0:
		return b
	case b <= 0:
		return a
	default:
		return min(a, b)
	}
}
