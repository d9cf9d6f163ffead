// Package health runs dependency checks (database, Redis, embedding and
// vector services) and serves them as liveness and readiness endpoints.
package health

import (
	"context"
	"time"
)

// CheckStatus is the outcome of one check, and the rollup of all of them
type CheckStatus string

const (
	StatusHealthy   CheckStatus = "healthy"
	StatusDegraded  CheckStatus = "degraded"
	StatusUnhealthy CheckStatus = "unhealthy"
	StatusUnknown   CheckStatus = "unknown"
)

type CheckResult struct {
	Component string         `json:"component"`
	Status    CheckStatus    `json:"status"`
	Critical  bool           `json:"critical"` // an unhealthy critical check makes the service unready
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Duration  time.Duration  `json:"duration_ns"`
	Timestamp time.Time      `json:"checked_at"`
}

// Checker tests one dependency. Check runs under a context bounded by
// Timeout.
type Checker interface {
	Name() string
	IsCritical() bool
	Timeout() time.Duration
	Check(ctx context.Context) CheckResult
}

// Report is the rollup served on /health
type Report struct {
	Status     CheckStatus            `json:"status"`
	Ready      bool                   `json:"ready"`
	Summary    Summary                `json:"summary"`
	Components map[string]CheckResult `json:"components"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Summary counts checkers by outcome; Critical counts critical checkers
type Summary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Degraded  int `json:"degraded"`
	Unhealthy int `json:"unhealthy"`
	Critical  int `json:"critical"`
}
