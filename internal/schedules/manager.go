// Package schedules runs periodic jobs that turn due work (follow-ups,
// listing matches) into domain events for the predictor.
package schedules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/estio/agentcore/internal/config"
	"github.com/estio/agentcore/internal/events"
	"github.com/estio/agentcore/internal/metrics"
)

var (
	ErrInvalidCronExpression = errors.New("invalid cron expression")
	ErrIntervalTooShort      = errors.New("cron interval too short")
	ErrDuplicateJob          = errors.New("job already registered")
	ErrJobNotFound           = errors.New("job not found")
)

// Config holds runner limits
type Config struct {
	// MinIntervalMins rejects specs that fire more often than this (0 disables)
	MinIntervalMins int
	// Timeout bounds a single job run
	Timeout time.Duration
}

// Emitter publishes events; *events.Bus satisfies it
type Emitter interface {
	Emit(ctx context.Context, e events.Event) events.Event
}

type entry struct {
	job     Job
	id      cron.EntryID
	running sync.Mutex
}

// Manager owns the cron scheduler and the registered jobs
type Manager struct {
	cron       *cron.Cron
	cronParser cron.Parser
	emitter    Emitter
	config     Config
	logger     *zap.Logger
	now        func() time.Time

	mu   sync.Mutex
	jobs map[string]*entry
	last map[string]RunStats
}

func NewManager(emitter Emitter, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Manager{
		cron:       cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
		cronParser: parser,
		emitter:    emitter,
		config:     cfg,
		logger:     logger,
		now:        time.Now,
		jobs:       make(map[string]*entry),
		last:       make(map[string]RunStats),
	}
}

// FromConfig registers the follow-up job described by the schedules section
func (m *Manager) FromConfig(cfg config.SchedulesConfig, store *Store) error {
	if cfg.FollowUpSpec == "" || store == nil {
		return nil
	}
	return m.AddJob(Job{Name: "follow_ups", Spec: cfg.FollowUpSpec, Source: store.DueFollowUps(100)})
}

// AddJob validates the cron expression and registers the job
func (m *Manager) AddJob(job Job) error {
	if _, err := m.cronParser.Parse(job.Spec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCronExpression, err)
	}
	if !m.validateMinInterval(job.Spec) {
		return fmt.Errorf("%w: must be at least %d minutes", ErrIntervalTooShort, m.config.MinIntervalMins)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}
	e := &entry{job: job}
	id, err := m.cron.AddFunc(job.Spec, func() { m.run(context.Background(), e) })
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCronExpression, err)
	}
	e.id = id
	m.jobs[job.Name] = e

	m.logger.Info("Schedule registered",
		zap.String("job", job.Name),
		zap.String("cron", job.Spec),
		zap.Time("next_run", m.cron.Entry(id).Schedule.Next(m.now().UTC())),
	)
	return nil
}

// RemoveJob unregisters a job; in-flight runs finish
func (m *Manager) RemoveJob(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	m.cron.Remove(e.id)
	delete(m.jobs, name)
	m.logger.Info("Schedule removed", zap.String("job", name))
	return nil
}

// RunNow executes a job immediately, outside its schedule
func (m *Manager) RunNow(ctx context.Context, name string) (RunStats, error) {
	m.mu.Lock()
	e, ok := m.jobs[name]
	m.mu.Unlock()
	if !ok {
		return RunStats{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return m.run(ctx, e), nil
}

// LastRun reports the most recent run of a job
func (m *Manager) LastRun(name string) (RunStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.last[name]
	return s, ok
}

// NextRun reports when a job fires next
func (m *Manager) NextRun(name string) (time.Time, bool) {
	m.mu.Lock()
	e, ok := m.jobs[name]
	m.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return m.cron.Entry(e.id).Schedule.Next(m.now().UTC()), true
}

func (m *Manager) Start() {
	m.cron.Start()
	m.logger.Info("Scheduler started", zap.Int("jobs", len(m.jobs)))
}

// Stop halts the scheduler and waits for running jobs up to ctx
func (m *Manager) Stop(ctx context.Context) {
	done := m.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		m.logger.Warn("Scheduler stop timed out with jobs still running")
	}
}

// run executes one job. Overlapping runs of the same job are skipped.
func (m *Manager) run(ctx context.Context, e *entry) RunStats {
	begin := time.Now()
	stats := RunStats{Job: e.job.Name, StartedAt: m.now()}
	if !e.running.TryLock() {
		stats.Skipped = true
		m.logger.Warn("Skipping run: job is already running", zap.String("job", e.job.Name))
		return stats
	}
	defer e.running.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	due, err := e.job.Source.Due(ctx, stats.StartedAt)
	if err != nil {
		stats.Error = err.Error()
		metrics.ScheduledEvents.WithLabelValues(e.job.Name, "source_error").Inc()
		m.logger.Error("Scheduled job failed", zap.String("job", e.job.Name), zap.Error(err))
	}
	for _, ev := range due {
		out := m.emitter.Emit(ctx, ev)
		if out.Status == events.StatusError {
			stats.Failed++
			metrics.ScheduledEvents.WithLabelValues(e.job.Name, "handler_error").Inc()
			continue
		}
		stats.Emitted++
		metrics.ScheduledEvents.WithLabelValues(e.job.Name, "emitted").Inc()
	}
	stats.Duration = time.Since(begin)

	m.mu.Lock()
	m.last[e.job.Name] = stats
	m.mu.Unlock()

	m.logger.Info("Scheduled job completed",
		zap.String("job", e.job.Name),
		zap.Int("emitted", stats.Emitted),
		zap.Int("failed", stats.Failed),
		zap.Duration("duration", stats.Duration),
	)
	return stats
}

// validateMinInterval checks if a cron expression meets the minimum interval requirement
func (m *Manager) validateMinInterval(spec string) bool {
	if m.config.MinIntervalMins <= 0 {
		return true
	}
	schedule, err := m.cronParser.Parse(spec)
	if err != nil {
		return false
	}
	next1 := schedule.Next(m.now().UTC())
	next2 := schedule.Next(next1)
	return next2.Sub(next1).Minutes() >= float64(m.config.MinIntervalMins)
}
