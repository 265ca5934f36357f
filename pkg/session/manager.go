package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultReconnectDelay  = 5 * time.Second
	DefaultWatchdogTimeout = 60 * time.Second
	DefaultMaxInitRetries  = 3
	DefaultEngineTimeout   = 30 * time.Second
)

// Config wires a Manager to its collaborators.
type Config struct {
	Factory  EngineFactory
	Resolver RuntimeResolver
	Auth     AuthStore

	// Optional.
	Store      Store
	Events     Publisher
	Observer   Observer
	Registry   *Registry
	Policy     ReconnectPolicy
	Classifier *CrashClassifier

	WatchdogTimeout time.Duration
	// MaxInitRetries bounds immediate retries after a transient crash.
	// Zero selects the default, negative disables them.
	MaxInitRetries int
	EngineTimeout  time.Duration
	MailboxSize    int

	Logger zerolog.Logger
}

// Manager owns the lifecycle of every session.
type Manager struct {
	factory    EngineFactory
	resolver   RuntimeResolver
	auth       AuthStore
	store      Store
	persist    *persister
	events     Publisher
	observer   Observer
	registry   *Registry
	policy     ReconnectPolicy
	classifier *CrashClassifier

	watchdogTimeout time.Duration
	maxInitRetries  int
	engineTimeout   time.Duration
	mailboxSize     int

	logger zerolog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	entries     map[string]*entry
	tearingDown map[string]chan struct{}
	closed      bool
	wg          sync.WaitGroup
}

// NewManager validates cfg and returns a ready Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("engine factory is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("runtime resolver is required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("auth store is required")
	}

	m := &Manager{
		factory:         cfg.Factory,
		resolver:        cfg.Resolver,
		auth:            cfg.Auth,
		store:           cfg.Store,
		events:          cfg.Events,
		observer:        cfg.Observer,
		registry:        cfg.Registry,
		policy:          cfg.Policy,
		classifier:      cfg.Classifier,
		watchdogTimeout: cfg.WatchdogTimeout,
		maxInitRetries:  cfg.MaxInitRetries,
		engineTimeout:   cfg.EngineTimeout,
		mailboxSize:     cfg.MailboxSize,
		logger:          cfg.Logger.With().Str("component", "session").Logger(),
		now:             time.Now,
		entries:         make(map[string]*entry),
		tearingDown:     make(map[string]chan struct{}),
	}

	if m.events == nil {
		m.events = nopPublisher{}
	}
	if m.observer == nil {
		m.observer = nopObserver{}
	}
	if m.registry == nil {
		m.registry = NewRegistry()
	}
	if m.policy == nil {
		m.policy = FixedDelayPolicy{Interval: DefaultReconnectDelay}
	}
	if m.classifier == nil {
		m.classifier = NewCrashClassifier()
	}
	if m.watchdogTimeout <= 0 {
		m.watchdogTimeout = DefaultWatchdogTimeout
	}
	switch {
	case m.maxInitRetries == 0:
		m.maxInitRetries = DefaultMaxInitRetries
	case m.maxInitRetries < 0:
		m.maxInitRetries = 0
	}
	if m.engineTimeout <= 0 {
		m.engineTimeout = DefaultEngineTimeout
	}

	if m.store != nil {
		m.persist = newPersister(m.store, m.logger)
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// Registry exposes the session registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Create registers id and starts connecting it. For a live session it only
// reports the current status; a logged-out session is started again.
func (m *Manager) Create(ctx context.Context, id string) (Session, error) {
	if err := ValidateID(id); err != nil {
		return Session{}, err
	}

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return Session{}, ErrManagerClosed
		}
		if wait, ok := m.tearingDown[id]; ok {
			m.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return Session{}, ctx.Err()
			}
		}

		e, exists := m.entries[id]
		if !exists {
			e = m.newEntry(id)
			m.entries[id] = e
			snap := e.snapshot()
			m.registry.Put(snap)
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				e.actor.run()
			}()
			m.mu.Unlock()

			e.actor.post(e.start)
			m.logger.Info().Str("session_id", id).Msg("Session created")
			return snap, nil
		}
		m.mu.Unlock()

		var snap Session
		err := e.actor.call(ctx, func() {
			if e.state == StateLoggedOut {
				e.log.Info().Msg("Restarting logged out session")
				e.retryCount = 0
				e.initRetries = 0
				e.beginConnecting()
			}
			snap = e.snapshot()
		})
		if errors.Is(err, errActorStopped) {
			select {
			case <-e.actor.done:
				continue
			case <-ctx.Done():
				return Session{}, ctx.Err()
			}
		}
		if err != nil {
			return Session{}, err
		}
		return snap, nil
	}
}

// SendMessage sends body to recipient through the session's engine.
func (m *Manager) SendMessage(ctx context.Context, id, to, body string) (SendResult, error) {
	e, ok := m.lookup(id)
	if !ok {
		return SendResult{}, notFound(id)
	}

	var (
		eng   Engine
		state State
	)
	err := e.actor.call(ctx, func() {
		eng = e.engine
		state = e.state
	})
	if errors.Is(err, errActorStopped) {
		return SendResult{}, notFound(id)
	}
	if err != nil {
		return SendResult{}, err
	}
	if eng == nil {
		return SendResult{}, newError(CodeSessionNotFound, id, "session has no live engine", nil)
	}
	if state != StateConnected {
		return SendResult{}, newError(CodeEngine, id, fmt.Sprintf("session is %s, not connected", state), nil)
	}

	start := time.Now()
	messageID, err := eng.SendMessage(ctx, to, body)
	m.observer.SendResult(err, time.Since(start))
	if err != nil {
		e.log.Warn().Err(err).Msg("Send failed")
		return SendResult{}, newError(CodeEngine, id, "send failed", err)
	}
	if messageID == "" {
		messageID = uuid.NewString()
	}

	now := m.now()
	e.actor.post(func() { e.touch(now) })

	return SendResult{
		SessionID: id,
		MessageID: messageID,
		To:        to,
		Timestamp: now,
	}, nil
}

// Logout signs the session out of the chat service and removes its auth
// material. The session stays registered in LoggedOut and is never
// reconnected automatically.
func (m *Manager) Logout(ctx context.Context, id string) error {
	e, ok := m.lookup(id)
	if !ok {
		return notFound(id)
	}

	var (
		eng     Engine
		already bool
		gen     uint64
	)
	err := e.actor.call(context.WithoutCancel(ctx), func() {
		if e.state == StateLoggedOut {
			already = true
			return
		}
		e.cancelTimers()
		e.gen++
		gen = e.gen
		e.initRetries = 0
		eng = e.takeEngine()
		e.transition(StateLoggedOut, "")
	})
	if errors.Is(err, errActorStopped) {
		return notFound(id)
	}
	if err != nil || already {
		return err
	}

	var logoutErr error
	if eng != nil {
		logoutCtx, cancel := context.WithTimeout(ctx, m.engineTimeout)
		logoutErr = eng.Logout(logoutCtx)
		cancel()
		m.destroyEngine(e.log, eng)
	}

	// A Create that raced the logout owns the directory again.
	var stillLoggedOut bool
	_ = e.actor.call(context.WithoutCancel(ctx), func() {
		stillLoggedOut = e.state == StateLoggedOut && e.gen == gen
	})
	if stillLoggedOut {
		if err := m.auth.Remove(id); err != nil {
			e.log.Warn().Err(err).Msg("Failed to remove auth material")
		}
	}

	if logoutErr != nil {
		e.log.Warn().Err(logoutErr).Msg("Engine logout failed")
		return newError(CodeEngine, id, "logout failed", logoutErr)
	}

	e.log.Info().Msg("Session logged out")
	return nil
}

// Delete tears the session down and removes its persisted authentication.
func (m *Manager) Delete(ctx context.Context, id string) error {
	e, ok := m.lookup(id)
	if !ok {
		return notFound(id)
	}

	var (
		eng      Engine
		released chan struct{}
		removed  <-chan struct{}
	)
	err := e.actor.call(context.WithoutCancel(ctx), func() {
		e.cancelTimers()
		e.gen++
		e.stopped = true
		eng = e.takeEngine()
		from := e.state
		e.state = StateDeleted

		released = make(chan struct{})
		m.mu.Lock()
		delete(m.entries, id)
		m.tearingDown[id] = released
		m.mu.Unlock()

		m.registry.Delete(id)
		removed = m.persist.remove(id)
		m.observer.Transition(from, StateDeleted)
		m.events.Publish(EventStatus, StatusPayload{ID: id, State: StateDeleted})
		e.actor.stop()
	})
	if errors.Is(err, errActorStopped) {
		return notFound(id)
	}
	if err != nil {
		return err
	}

	defer func() {
		m.mu.Lock()
		delete(m.tearingDown, id)
		m.mu.Unlock()
		close(released)
	}()

	if eng != nil {
		m.destroyEngine(e.log, eng)
	}
	if err := m.auth.Remove(id); err != nil {
		e.log.Warn().Err(err).Msg("Failed to remove auth material")
	}
	select {
	case <-removed:
	case <-ctx.Done():
		e.log.Warn().Err(ctx.Err()).Msg("Session record removal still pending")
	}

	e.log.Info().Msg("Session deleted")
	return nil
}

// Get returns the snapshot for id.
func (m *Manager) Get(id string) (Session, error) {
	s, ok := m.registry.Get(id)
	if !ok {
		return Session{}, notFound(id)
	}
	return s, nil
}

// Status returns every registered session.
func (m *Manager) Status() []Session {
	return m.registry.List()
}

// Restore re-creates every persisted session that was not logged out, then
// removes auth directories that no persisted session owns.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	records, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list persisted sessions: %w", err)
	}

	known := make(map[string]bool, len(records))
	restored := 0
	for _, rec := range records {
		known[rec.ID] = true
		if rec.State.Terminal() {
			continue
		}
		if _, err := m.Create(ctx, rec.ID); err != nil {
			m.logger.Warn().Err(err).Str("session_id", rec.ID).Msg("Failed to restore session")
			continue
		}
		restored++
	}

	m.pruneAuth(known)
	return restored, nil
}

// authLister is implemented by auth stores that can enumerate what they hold.
type authLister interface {
	List() ([]string, error)
}

func (m *Manager) pruneAuth(known map[string]bool) {
	lister, ok := m.auth.(authLister)
	if !ok {
		return
	}
	ids, err := lister.List()
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to list auth directories")
		return
	}
	for _, id := range ids {
		if known[id] {
			continue
		}
		if _, live := m.registry.Get(id); live {
			continue
		}
		if err := m.auth.Remove(id); err != nil {
			m.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to remove orphaned auth material")
			continue
		}
		m.logger.Info().Str("session_id", id).Msg("Removed orphaned auth material")
	}
}

// Checkpoint flushes queued state writes, then records the last activity of
// every registered session. State itself is only written by transitions, so
// a checkpoint never revives a record that a concurrent delete removed.
func (m *Manager) Checkpoint(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	if err := m.persist.flush(ctx); err != nil {
		return fmt.Errorf("failed to flush session writes: %w", err)
	}
	var errs []error
	for _, s := range m.registry.List() {
		if err := m.store.Touch(ctx, s.ID, s.LastActivity); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", s.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Close stops every actor and destroys live engines. Persisted state and
// auth material are kept so sessions can be restored.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	m.cancel()

	var engines []Engine
	var mu sync.Mutex
	for _, e := range entries {
		e := e
		_ = e.actor.call(context.WithoutCancel(ctx), func() {
			e.cancelTimers()
			e.gen++
			e.stopped = true
			if eng := e.takeEngine(); eng != nil {
				mu.Lock()
				engines = append(engines, eng)
				mu.Unlock()
			}
			e.actor.stop()
		})
		e.actor.stop()
	}

	for _, eng := range engines {
		m.destroyEngine(m.logger, eng)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for session actors: %w", ctx.Err())
	}

	if err := m.persist.close(ctx); err != nil {
		return fmt.Errorf("timed out flushing session writes: %w", err)
	}

	m.logger.Info().Int("sessions", len(entries)).Msg("Session manager stopped")
	return nil
}

func (m *Manager) lookup(id string) (*entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	return e, ok
}

func (m *Manager) destroyEngine(log zerolog.Logger, eng Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), m.engineTimeout)
	defer cancel()

	if err := eng.Destroy(ctx); err != nil {
		log.Warn().Err(err).Msg("Engine destroy failed")
	}
}
