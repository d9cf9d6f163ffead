package circuitbreaker

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	stateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentcore_circuit_breaker_state",
			Help: "Breaker state per dependency (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name", "service"},
	)

	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_circuit_breaker_requests_total",
			Help: "Calls routed through a breaker by state and outcome",
		},
		[]string{"name", "service", "state", "result"},
	)

	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_circuit_breaker_state_changes_total",
			Help: "Breaker state transitions",
		},
		[]string{"name", "service", "from_state", "to_state"},
	)

	openedAt = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentcore_circuit_breaker_open_since_seconds",
			Help: "Unix time the breaker opened, 0 while closed or half-open",
		},
		[]string{"name", "service"},
	)
)

// Status is a point-in-time view of one registered breaker
type Status struct {
	Name    string `json:"name"`
	Service string `json:"service"`
	State   State  `json:"state"`
}

type registered struct {
	name    string
	service string
	cb      *CircuitBreaker
}

// Registry tracks the process's breakers for metrics and health reporting
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]registered
}

func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]registered)}
}

// DefaultRegistry is shared by all wrappers in the process
var DefaultRegistry = NewRegistry()

// Register exports cb's transitions. Call it before cb is shared.
func (r *Registry) Register(name, service string, cb *CircuitBreaker) {
	r.mu.Lock()
	r.breakers[service+":"+name] = registered{name: name, service: service, cb: cb}
	r.mu.Unlock()

	next := cb.config.OnStateChange
	cb.config.OnStateChange = func(cbName string, from, to State) {
		if next != nil {
			next(cbName, from, to)
		}
		transitionsTotal.WithLabelValues(name, service, from.String(), to.String()).Inc()
		stateGauge.WithLabelValues(name, service).Set(float64(to))
		switch {
		case to == StateOpen:
			openedAt.WithLabelValues(name, service).SetToCurrentTime()
		case from == StateOpen:
			openedAt.WithLabelValues(name, service).Set(0)
		}
	}
	stateGauge.WithLabelValues(name, service).Set(float64(cb.State()))
}

// Record counts one call outcome
func (r *Registry) Record(name, service string, state State, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	requestsTotal.WithLabelValues(name, service, state.String(), result).Inc()
}

// Snapshot returns every registered breaker ordered by service then name
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	out := make([]Status, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, Status{Name: b.name, Service: b.service, State: b.cb.State()})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// New builds a breaker from settings and registers it with DefaultRegistry
func New(name, service string, settings Settings, logger *zap.Logger) *CircuitBreaker {
	cb := NewCircuitBreaker(name, settings.ToConfig(), logger)
	DefaultRegistry.Register(name, service, cb)
	return cb
}
