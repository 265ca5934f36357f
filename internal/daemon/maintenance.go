package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/wagateway/internal/metrics"
	"github.com/harun/wagateway/pkg/session"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const maintenanceTimeout = 30 * time.Second

// Checkpointer flushes session snapshots to durable storage.
type Checkpointer interface {
	Checkpoint(ctx context.Context) error
}

// CachePurger drops expired cache entries and reports how many it removed.
type CachePurger interface {
	PurgeExpired() int
}

// MaintenanceConfig wires the periodic housekeeping job.
type MaintenanceConfig struct {
	Schedule string
	Registry *session.Registry
	Sessions Checkpointer
	Router   CachePurger
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

// Maintenance refreshes per-state gauges, flushes last-activity to the store
// and purges expired idempotency entries on a cron schedule.
type Maintenance struct {
	cron     *cron.Cron
	registry *session.Registry
	sessions Checkpointer
	router   CachePurger
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
}

// NewMaintenance parses the schedule and registers the job.
func NewMaintenance(cfg MaintenanceConfig) (*Maintenance, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("session registry is required")
	}

	m := &Maintenance{
		registry: cfg.Registry,
		sessions: cfg.Sessions,
		router:   cfg.Router,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With().Str("component", "maintenance").Logger(),
		now:      time.Now,
	}

	m.cron = cron.New(
		cron.WithLogger(cronLogger{logger: m.logger}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: m.logger})),
	)
	if _, err := m.cron.AddFunc(cfg.Schedule, m.run); err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", cfg.Schedule, err)
	}
	return m, nil
}

// Start begins running the job on schedule.
func (m *Maintenance) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.cron.Start()
}

// Stop halts the scheduler and waits for a running pass to finish.
func (m *Maintenance) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	<-m.cron.Stop().Done()
}

func (m *Maintenance) run() {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()
	_ = m.RunOnce(ctx)
}

// RunOnce performs one maintenance pass.
func (m *Maintenance) RunOnce(ctx context.Context) error {
	counts := m.registry.CountByState()
	if m.metrics != nil {
		m.metrics.SetSessionStates(counts)
	}

	purged := 0
	if m.router != nil {
		purged = m.router.PurgeExpired()
	}

	var err error
	if m.sessions != nil {
		err = m.sessions.Checkpoint(ctx)
	}

	if m.metrics != nil {
		m.metrics.MaintenanceRun(m.now(), err)
	}

	if err != nil {
		m.logger.Warn().Err(err).Msg("Session checkpoint failed")
		return err
	}

	m.logger.Debug().
		Int("sessions", m.registry.Count()).
		Int("purged_idempotency_keys", purged).
		Msg("Maintenance pass complete")
	return nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
