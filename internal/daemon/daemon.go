package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/wagateway/internal/config"
	"github.com/harun/wagateway/internal/logger"
	"github.com/harun/wagateway/internal/metrics"
	"github.com/harun/wagateway/internal/observability"
	"github.com/harun/wagateway/internal/tracing"
	"github.com/harun/wagateway/pkg/browser"
	"github.com/harun/wagateway/pkg/gateway"
	"github.com/harun/wagateway/pkg/hub"
	"github.com/harun/wagateway/pkg/session"
	"github.com/harun/wagateway/pkg/store"
	"github.com/harun/wagateway/pkg/webclient"
)

const (
	preloadTimeout = 5 * time.Minute
	restoreTimeout = 2 * time.Minute
)

// Daemon represents the gateway service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	metrics  *metrics.Metrics
	audit    *observability.AuditLogger
	store    *store.SQLiteStore
	resolver session.RuntimeResolver
	factory  session.EngineFactory
	hub      *hub.Hub
	sessions *session.Manager

	// Services
	gatewayServer *gateway.Server
	health        *gateway.Health
	maintenance   *Maintenance

	// Internal
	lifecycle *LifecycleManager

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

// Option customises a Daemon before its modules are built.
type Option func(*Daemon)

// WithEngineFactory replaces the browser-backed engine factory.
func WithEngineFactory(f session.EngineFactory) Option {
	return func(d *Daemon) { d.factory = f }
}

// WithRuntimeResolver replaces the browser runtime resolver.
func WithRuntimeResolver(r session.RuntimeResolver) Option {
	return func(d *Daemon) { d.resolver = r }
}

// Status is a point-in-time view of the daemon.
type Status struct {
	Running   bool          `json:"running"`
	StartTime time.Time     `json:"start_time,omitempty"`
	Uptime    time.Duration `json:"uptime"`
	Addr      string        `json:"addr,omitempty"`
	Sessions  int           `json:"sessions"`
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	d := &Daemon{
		config: cfg,
		logger: log,
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := d.initializeCoreModules(); err != nil {
		d.closeCoreModules()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		d.closeCoreModules()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initializeCoreModules initializes all core modules
func (d *Daemon) initializeCoreModules() error {
	zl := d.logger.GetZerolog()

	if err := os.MkdirAll(d.config.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	d.metrics = metrics.NewMetrics()

	auditPath := filepath.Join(d.config.DataDir, "audit.log")
	audit, err := observability.OpenAuditLog(auditPath)
	if err != nil {
		d.logger.Warn().Err(err).Msg("Failed to open audit log, continuing without audit trail")
	} else {
		d.audit = audit
		d.logger.Info().Str("path", auditPath).Msg("Audit logger initialized")
	}

	if d.config.Store.Enabled {
		st, err := store.Open(store.Config{Path: d.config.Store.Path, Logger: zl})
		if err != nil {
			return fmt.Errorf("failed to open session store: %w", err)
		}
		d.store = st
		d.logger.Info().Str("path", d.config.Store.Path).Msg("Session store initialized")
	}

	if d.resolver == nil {
		d.resolver = browser.NewResolver(browser.ResolverConfig{
			Bin:           d.config.Browser.Bin,
			AllowDownload: d.config.Browser.AllowDownload,
			DownloadDir:   d.config.Browser.DownloadDir,
			Logger:        zl,
		})
	}

	if d.factory == nil {
		// An empty list keeps the default launch flags.
		var flags []string
		if len(d.config.Browser.Flags) > 0 {
			flags = d.config.Browser.Flags
		}
		d.factory = webclient.NewFactory(webclient.Config{
			URL:          d.config.Browser.URL,
			Headless:     d.config.Browser.Headless,
			NoSandbox:    d.config.Browser.NoSandbox,
			Flags:        flags,
			UserAgent:    d.config.Browser.UserAgent,
			PollInterval: d.config.Browser.PollInterval,
			SendTimeout:  d.config.Browser.SendTimeout,
			Logger:       zl,
		})
	}

	d.hub = hub.New(hub.Config{
		HeartbeatInterval: d.config.Hub.HeartbeatInterval,
		QueueSize:         d.config.Hub.QueueSize,
		WriteTimeout:      d.config.Hub.WriteTimeout,
		Observer:          d.metrics,
		Logger:            zl,
	})

	policy, err := session.NewReconnectPolicy(
		d.config.Sessions.ReconnectPolicy,
		d.config.Sessions.ReconnectDelay,
		d.config.Sessions.MaxReconnectDelay,
	)
	if err != nil {
		return err
	}

	sessCfg := session.Config{
		Factory:         d.factory,
		Resolver:        d.resolver,
		Auth:            session.NewDirAuthStore(d.config.Sessions.AuthDir),
		Events:          d.hub,
		Observer:        d.metrics,
		Policy:          policy,
		WatchdogTimeout: d.config.Sessions.WatchdogTimeout,
		MaxInitRetries:  d.config.Sessions.MaxInitRetries,
		EngineTimeout:   d.config.Sessions.EngineTimeout,
		Logger:          zl,
	}
	if d.store != nil {
		sessCfg.Store = d.store
	}
	sessions, err := session.NewManager(sessCfg)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	d.sessions = sessions
	d.logger.Info().
		Str("auth_dir", d.config.Sessions.AuthDir).
		Str("reconnect_policy", d.config.Sessions.ReconnectPolicy).
		Msg("Session manager initialized")

	return nil
}

// initializeServices builds the network-facing services
func (d *Daemon) initializeServices() error {
	d.health = gateway.NewHealth()

	gwCfg := gateway.Config{
		Host:           d.config.Gateway.Host,
		Port:           d.config.Gateway.Port,
		SharedSecret:   d.config.Gateway.SharedSecret,
		AllowedOrigins: d.config.Gateway.AllowedOrigins,
		RateLimits: gateway.RateLimits{
			RequestsPerMinute: d.config.Gateway.RequestsPerMinute,
			MaxConcurrent:     d.config.Gateway.MaxConcurrent,
		},
		ShutdownTimeout: d.config.Gateway.ShutdownTimeout,
		Sessions:        d.sessions,
		Hub:             d.hub,
		Health:          d.health,
		Audit:           d.audit,
		Logger:          d.logger.GetZerolog(),
	}
	if d.config.Gateway.Metrics {
		gwCfg.MetricsHandler = d.metrics.Handler()
	}

	srv, err := gateway.NewServer(gwCfg)
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.gatewayServer = srv

	if d.config.Maintenance.Enabled {
		m, err := NewMaintenance(MaintenanceConfig{
			Schedule: d.config.Maintenance.Schedule,
			Registry: d.sessions.Registry(),
			Sessions: d.sessions,
			Router:   srv.Router(),
			Metrics:  d.metrics,
			Logger:   d.logger.GetZerolog(),
		})
		if err != nil {
			return fmt.Errorf("failed to create maintenance job: %w", err)
		}
		d.maintenance = m
	}

	return nil
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	ctx := tracing.WithTraceID(context.Background(), tracing.NewTraceID())
	logger := tracing.LoggerFromContext(ctx, d.logger.Component("daemon"))
	logger.Info().Msg("Starting wagateway daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if d.config.Browser.Preload {
		d.preloadBrowser(ctx)
	}

	if err := d.gatewayServer.Start(); err != nil {
		_ = d.lifecycle.Stop()
		d.setStopped()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	logger.Info().Str("addr", d.gatewayServer.Addr()).Msg("Gateway server started")

	if d.config.Sessions.RestoreOnStart && d.store != nil {
		restoreCtx, cancel := context.WithTimeout(ctx, restoreTimeout)
		n, err := d.sessions.Restore(restoreCtx)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to restore sessions")
		} else {
			logger.Info().Int("sessions", n).Msg("Sessions restored")
		}
	}

	if d.maintenance != nil {
		d.maintenance.Start()
		logger.Info().Str("schedule", d.config.Maintenance.Schedule).Msg("Maintenance job started")
	}

	d.health.SetReady()
	logger.Info().Msg("Daemon started successfully")

	return nil
}

// preloadBrowser resolves the runtime once so the first session does not pay
// for discovery or download. Failure is not fatal: sessions report it.
func (d *Daemon) preloadBrowser(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, preloadTimeout)
	defer cancel()

	path, err := d.resolver.Resolve(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Msg("Browser runtime unavailable, sessions will fail until one is installed")
		return
	}
	d.logger.Info().Str("path", path).Msg("Browser runtime ready")
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	ctx := tracing.WithTraceID(context.Background(), tracing.NewTraceID())
	logger := tracing.LoggerFromContext(ctx, d.logger.Component("daemon"))
	logger.Info().Msg("Stopping wagateway daemon")

	d.health.SetDraining()

	if d.maintenance != nil {
		d.maintenance.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, d.config.Gateway.ShutdownTimeout)
	defer cancel()

	// The gateway goes first so no request races the manager shutdown.
	if err := d.gatewayServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop gateway server")
	}

	if err := d.sessions.Checkpoint(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to checkpoint sessions")
	}
	if err := d.sessions.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to close session manager")
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.closeCoreModules()

	logger.Info().Msg("Daemon stopped successfully")

	return nil
}

func (d *Daemon) closeCoreModules() {
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close session store")
		}
		d.store = nil
	}
	if err := d.audit.Close(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to close audit logger")
	}
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:  d.running,
		Sessions: d.sessions.Registry().Count(),
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.Addr = d.gatewayServer.Addr()
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetSessionManager returns the session manager
func (d *Daemon) GetSessionManager() *session.Manager {
	return d.sessions
}

// GetGatewayServer returns the gateway server
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}

// GetHub returns the event hub
func (d *Daemon) GetHub() *hub.Hub {
	return d.hub
}

// GetMetrics returns the metrics registry
func (d *Daemon) GetMetrics() *metrics.Metrics {
	return d.metrics
}
