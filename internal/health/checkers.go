package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/estio/agentcore/internal/circuitbreaker"
)

// highLatency marks a responding dependency as degraded
const highLatency = 100 * time.Millisecond

func latencyStatus(d time.Duration, name string) (CheckStatus, string) {
	if d > highLatency {
		return StatusDegraded, name + " responding but with high latency"
	}
	return StatusHealthy, name + " healthy"
}

// DatabaseHealthChecker pings the database through its breaker
type DatabaseHealthChecker struct {
	wrapper *circuitbreaker.DatabaseWrapper
}

func NewDatabaseHealthChecker(wrapper *circuitbreaker.DatabaseWrapper) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{wrapper: wrapper}
}

func (d *DatabaseHealthChecker) Name() string           { return "database" }
func (d *DatabaseHealthChecker) IsCritical() bool       { return true }
func (d *DatabaseHealthChecker) Timeout() time.Duration { return defaultCheckTimeout }

func (d *DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	r := CheckResult{Component: "database", Timestamp: start}
	if d.wrapper.IsCircuitBreakerOpen() {
		r.Status = StatusUnhealthy
		r.Error = "circuit breaker open"
		return r
	}
	err := d.wrapper.PingContext(ctx)
	r.Duration = time.Since(start)
	if err != nil {
		r.Status = StatusUnhealthy
		r.Error = err.Error()
		r.Message = "Database ping failed"
		return r
	}
	r.Status, r.Message = latencyStatus(r.Duration, "Database")
	r.Details = map[string]any{"driver": d.wrapper.DriverName(), "latency_ms": r.Duration.Milliseconds()}
	return r
}

// RedisHealthChecker pings the Redis that backs the task queue and draft limiter
type RedisHealthChecker struct {
	client   redis.UniversalClient
	critical bool
}

func NewRedisHealthChecker(client redis.UniversalClient, critical bool) *RedisHealthChecker {
	return &RedisHealthChecker{client: client, critical: critical}
}

func (c *RedisHealthChecker) Name() string           { return "redis" }
func (c *RedisHealthChecker) IsCritical() bool       { return c.critical }
func (c *RedisHealthChecker) Timeout() time.Duration { return defaultCheckTimeout }

func (c *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	r := CheckResult{Component: "redis", Timestamp: start}
	err := c.client.Ping(ctx).Err()
	r.Duration = time.Since(start)
	if err != nil {
		r.Status = StatusUnhealthy
		r.Error = err.Error()
		r.Message = "Redis ping failed"
		return r
	}
	r.Status, r.Message = latencyStatus(r.Duration, "Redis")
	return r
}

// ServiceHealthChecker checks an HTTP dependency such as the embedding service or Qdrant
type ServiceHealthChecker struct {
	name     string
	url      string
	critical bool
	client   *http.Client
}

func NewServiceHealthChecker(name, url string, critical bool) *ServiceHealthChecker {
	return &ServiceHealthChecker{
		name:     name,
		url:      url,
		critical: critical,
		client:   &http.Client{Timeout: defaultCheckTimeout},
	}
}

func (s *ServiceHealthChecker) Name() string           { return s.name }
func (s *ServiceHealthChecker) IsCritical() bool       { return s.critical }
func (s *ServiceHealthChecker) Timeout() time.Duration { return defaultCheckTimeout }

func (s *ServiceHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	r := CheckResult{Component: s.name, Timestamp: start, Details: map[string]any{"url": s.url}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		r.Status = StatusUnhealthy
		r.Error = err.Error()
		return r
	}
	resp, err := s.client.Do(req)
	r.Duration = time.Since(start)
	if err != nil {
		r.Status = StatusUnhealthy
		r.Error = err.Error()
		r.Message = "Service unreachable"
		return r
	}
	defer resp.Body.Close()
	r.Details["status_code"] = resp.StatusCode
	if resp.StatusCode >= http.StatusInternalServerError {
		r.Status = StatusUnhealthy
		r.Error = fmt.Sprintf("status %d", resp.StatusCode)
		return r
	}
	r.Status, r.Message = latencyStatus(r.Duration, s.name)
	return r
}

// CustomHealthChecker wraps a check function
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{name: name, critical: critical, timeout: timeout, checkFn: checkFn}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}

// BreakerHealthChecker reports breakers that are refusing calls. An open
// breaker degrades the service; the dependency's own checker decides
// whether that makes it unready.
type BreakerHealthChecker struct {
	snapshot func() []circuitbreaker.Status
}

func NewBreakerHealthChecker(snapshot func() []circuitbreaker.Status) *BreakerHealthChecker {
	return &BreakerHealthChecker{snapshot: snapshot}
}

func (b *BreakerHealthChecker) Name() string           { return "circuit_breakers" }
func (b *BreakerHealthChecker) IsCritical() bool       { return false }
func (b *BreakerHealthChecker) Timeout() time.Duration { return time.Second }

func (b *BreakerHealthChecker) Check(context.Context) CheckResult {
	r := CheckResult{Component: "circuit_breakers", Timestamp: time.Now(), Status: StatusHealthy}
	states := make(map[string]any)
	var open []string
	for _, s := range b.snapshot() {
		key := s.Service + ":" + s.Name
		states[key] = s.State.String()
		if s.State != circuitbreaker.StateClosed {
			open = append(open, key)
		}
	}
	r.Details = states
	if len(open) > 0 {
		r.Status = StatusDegraded
		r.Message = fmt.Sprintf("%d breaker(s) not closed: %v", len(open), open)
		return r
	}
	r.Message = "All breakers closed"
	return r
}
