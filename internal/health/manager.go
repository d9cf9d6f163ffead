package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultCheckTimeout = 5 * time.Second

// Manager runs registered checkers and caches their last results
type Manager struct {
	checkers map[string]Checker
	last     map[string]CheckResult
	interval time.Duration
	logger   *zap.Logger
	mu       sync.RWMutex

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewManager(interval time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Manager{
		checkers: make(map[string]Checker),
		last:     make(map[string]CheckResult),
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// RegisterChecker registers a health check
func (m *Manager) RegisterChecker(checker Checker) error {
	name := checker.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}
	m.checkers[name] = checker
	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", checker.IsCritical()),
		zap.Duration("timeout", checker.Timeout()),
	)
	return nil
}

// CheckAll runs every checker concurrently and refreshes the cache
func (m *Manager) CheckAll(ctx context.Context) Report {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	results := make([]CheckResult, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			results[i] = m.runSingleCheck(ctx, c)
		}(i, c)
	}
	wg.Wait()

	m.mu.Lock()
	for _, r := range results {
		m.last[r.Component] = r
	}
	m.mu.Unlock()
	return m.Report()
}

func (m *Manager) runSingleCheck(ctx context.Context, c Checker) CheckResult {
	timeout := c.Timeout()
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	r := c.Check(ctx)
	if r.Component == "" {
		r.Component = c.Name()
	}
	r.Critical = c.IsCritical()
	if r.Timestamp.IsZero() {
		r.Timestamp = start
	}
	if r.Duration == 0 {
		r.Duration = time.Since(start)
	}
	if r.Status == StatusUnhealthy {
		m.logger.Warn("Health check failed",
			zap.String("checker", r.Component),
			zap.Bool("critical", r.Critical),
			zap.String("error", r.Error),
		)
	}
	return r
}

// Report summarises the cached results. Checkers that have not run yet are unknown.
func (m *Manager) Report() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rep := Report{
		Status:     StatusHealthy,
		Ready:      true,
		Components: make(map[string]CheckResult, len(m.checkers)),
		Timestamp:  time.Now(),
	}
	for name, c := range m.checkers {
		r, ok := m.last[name]
		if !ok {
			r = CheckResult{Component: name, Status: StatusUnknown, Critical: c.IsCritical()}
		}
		rep.Components[name] = r
		rep.Summary.Total++
		if r.Critical {
			rep.Summary.Critical++
		}
		switch r.Status {
		case StatusHealthy:
			rep.Summary.Healthy++
		case StatusDegraded:
			rep.Summary.Degraded++
			if rep.Status == StatusHealthy {
				rep.Status = StatusDegraded
			}
		default:
			rep.Summary.Unhealthy++
			if r.Critical {
				rep.Status = StatusUnhealthy
				rep.Ready = false
			} else if rep.Status == StatusHealthy {
				rep.Status = StatusDegraded
			}
		}
	}
	return rep
}

// IsReady reports whether every critical dependency answered on the last run
func (m *Manager) IsReady() bool { return m.Report().Ready }

// Start refreshes results every interval until Stop or ctx is done
func (m *Manager) Start(ctx context.Context) {
	m.CheckAll(ctx)
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.CheckAll(ctx)
			}
		}
	}()
	m.logger.Info("Health manager started", zap.Duration("interval", m.interval))
}

func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}
