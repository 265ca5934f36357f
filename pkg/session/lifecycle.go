package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// entry is the actor-owned state of one session. Every field below actor is
// read and written only on the actor goroutine.
type entry struct {
	id    string
	m     *Manager
	log   zerolog.Logger
	actor *actor

	state        State
	createdAt    time.Time
	lastActivity time.Time
	retryCount   int
	initRetries  int
	lastErr      string
	stopped      bool

	// gen identifies the current connection attempt.
	gen    uint64
	engine Engine

	watchdog  *time.Timer
	reconnect *time.Timer
}

func (m *Manager) newEntry(id string) *entry {
	now := m.now()
	return &entry{
		id:           id,
		m:            m,
		log:          m.logger.With().Str("session_id", id).Logger(),
		actor:        newActor(m.mailboxSize),
		state:        StateConnecting,
		createdAt:    now,
		lastActivity: now,
	}
}

func (e *entry) snapshot() Session {
	return Session{
		ID:           e.id,
		State:        e.state,
		LastActivity: e.lastActivity,
		RetryCount:   e.retryCount,
		CreatedAt:    e.createdAt,
		LastError:    e.lastErr,
	}
}

// start runs the first connection attempt of a newly registered session.
func (e *entry) start() {
	if e.stopped {
		return
	}
	e.beginConnecting()
}

// transition applies a state change and announces it.
func (e *entry) transition(to State, errMsg string) {
	from := e.state
	e.state = to
	e.lastErr = errMsg
	e.lastActivity = e.m.now()

	snap := e.snapshot()
	e.m.registry.Put(snap)
	e.m.observer.Transition(from, to)
	e.m.events.Publish(EventStatus, StatusPayload{ID: e.id, State: to, Error: errMsg})

	e.m.persist.save(snap)

	ev := e.log.Info()
	if errMsg != "" {
		ev = e.log.Warn().Str("error", errMsg)
	}
	ev.Str("from", string(from)).
		Str("to", string(to)).
		Int("retry_count", e.retryCount).
		Msg("Session state changed")
}

func (e *entry) touch(at time.Time) {
	if e.stopped {
		return
	}
	if at.After(e.lastActivity) {
		e.lastActivity = at
		e.m.registry.Touch(e.id, at)
	}
}

// beginConnecting starts a fresh attempt: Connecting, watchdog armed, runtime
// resolution and engine construction off the actor.
func (e *entry) beginConnecting() {
	e.cancelReconnect()
	e.gen++
	gen := e.gen

	e.transition(StateConnecting, "")
	e.armWatchdog()

	e.m.wg.Add(1)
	go func() {
		defer e.m.wg.Done()
		e.construct(gen)
	}()
}

func (e *entry) construct(gen uint64) {
	ctx := e.m.ctx

	path, err := e.m.resolver.Resolve(ctx)
	if err != nil {
		e.post(func() {
			e.onInitError(gen, newError(CodeRuntimeUnavailable, e.id, "browser runtime unavailable", err))
		})
		return
	}

	authDir, err := e.m.auth.Path(e.id)
	if err != nil {
		e.post(func() {
			e.onInitError(gen, newError(CodeEngineInit, e.id, "auth directory unavailable", err))
		})
		return
	}

	handler := &engineEvents{e: e, gen: gen}
	eng, err := e.m.factory.NewEngine(EngineOptions{
		SessionID:   e.id,
		BrowserPath: path,
		AuthDir:     authDir,
	}, handler)
	if err != nil {
		e.post(func() {
			e.onInitError(gen, newError(CodeEngineInit, e.id, "engine construction failed", err))
		})
		return
	}

	accepted := false
	_ = e.actor.call(context.Background(), func() {
		if e.stopped || e.gen != gen || !e.state.PreReady() {
			return
		}
		e.engine = eng
		accepted = true
	})
	if !accepted {
		e.m.destroyEngine(e.log, eng)
		return
	}

	if err := eng.Initialize(ctx); err != nil {
		e.post(func() {
			e.onInitError(gen, newError(CodeEngineInit, e.id, "engine initialization failed", err))
		})
	}
}

func (e *entry) post(fn func()) {
	e.actor.post(fn)
}

func (e *entry) current(gen uint64) bool {
	return !e.stopped && gen == e.gen
}

func (e *entry) onInitError(gen uint64, err error) {
	if !e.current(gen) {
		return
	}

	e.releaseEngine()
	if e.m.classifier.IsTransient(err) && e.initRetries < e.m.maxInitRetries {
		e.initRetries++
		e.log.Warn().Err(err).Int("attempt", e.initRetries).Msg("Transient engine crash, retrying")
		e.beginConnecting()
		return
	}

	e.initRetries = 0
	e.cancelWatchdog()
	e.transition(StateDisconnected, err.Error())
	e.scheduleReconnect()
}

func (e *entry) onQR(gen uint64, image string) {
	if !e.current(gen) || !(e.state == StateConnecting || e.state == StateQRPending) {
		return
	}
	if e.state != StateQRPending {
		e.transition(StateQRPending, "")
	}
	e.touch(e.m.now())
	e.m.events.Publish(EventQR, QRPayload{ID: e.id, Image: image})
}

func (e *entry) onAuthenticated(gen uint64) {
	if !e.current(gen) || !(e.state == StateConnecting || e.state == StateQRPending) {
		return
	}
	e.transition(StateAuthenticated, "")
}

func (e *entry) onReady(gen uint64) {
	if !e.current(gen) || !e.state.PreReady() {
		return
	}
	e.cancelTimers()
	e.retryCount = 0
	e.initRetries = 0
	e.transition(StateConnected, "")
}

func (e *entry) onAuthFailure(gen uint64, reason string) {
	if !e.current(gen) || e.state.Terminal() {
		return
	}
	e.cancelWatchdog()
	e.releaseEngine()
	e.transition(StateAuthFailed, reason)
	e.scheduleReconnect()
}

func (e *entry) onDisconnected(gen uint64, reason string) {
	if !e.current(gen) || e.state.Terminal() || e.state == StateDisconnected {
		return
	}
	e.cancelWatchdog()
	e.releaseEngine()
	e.transition(StateDisconnected, reason)
	e.scheduleReconnect()
}

func (e *entry) onMessage(gen uint64, msg InboundMessage) {
	if !e.current(gen) {
		return
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = e.m.now()
	}
	e.touch(e.m.now())
	e.m.events.Publish(EventMessage, MessagePayload{
		ID:        e.id,
		MessageID: msg.ID,
		From:      msg.From,
		Body:      msg.Body,
		Timestamp: ts,
	})
}

func (e *entry) armWatchdog() {
	e.cancelWatchdog()

	var t *time.Timer
	t = time.AfterFunc(e.m.watchdogTimeout, func() {
		e.post(func() { e.onWatchdog(t) })
	})
	e.watchdog = t
}

func (e *entry) onWatchdog(t *time.Timer) {
	if e.stopped || e.watchdog != t {
		return
	}
	e.watchdog = nil
	if !e.state.PreReady() {
		return
	}

	e.log.Warn().
		Str("state", string(e.state)).
		Dur("timeout", e.m.watchdogTimeout).
		Msg("Connect watchdog fired, restarting session")
	e.m.observer.WatchdogFired(e.id)

	e.releaseEngine()
	e.retryCount++
	e.initRetries = 0
	e.beginConnecting()
}

func (e *entry) scheduleReconnect() {
	e.cancelReconnect()

	delay := e.m.policy.Delay(e.retryCount)
	e.m.observer.Reconnect(e.id, delay)

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		e.post(func() { e.onReconnect(t) })
	})
	e.reconnect = t

	e.log.Info().Dur("delay", delay).Int("retry_count", e.retryCount).Msg("Reconnect scheduled")
}

func (e *entry) onReconnect(t *time.Timer) {
	if e.stopped || e.reconnect != t {
		return
	}
	e.reconnect = nil
	if e.state.Terminal() {
		return
	}

	e.retryCount++
	if e.state == StateDisconnected {
		e.transition(StateReconnecting, "")
	}
	e.beginConnecting()
}

func (e *entry) cancelWatchdog() {
	if e.watchdog != nil {
		e.watchdog.Stop()
		e.watchdog = nil
	}
}

func (e *entry) cancelReconnect() {
	if e.reconnect != nil {
		e.reconnect.Stop()
		e.reconnect = nil
	}
}

func (e *entry) cancelTimers() {
	e.cancelWatchdog()
	e.cancelReconnect()
}

// takeEngine detaches the live engine without destroying it.
func (e *entry) takeEngine() Engine {
	eng := e.engine
	e.engine = nil
	return eng
}

// releaseEngine detaches the live engine and destroys it off the actor.
func (e *entry) releaseEngine() {
	eng := e.takeEngine()
	if eng == nil {
		return
	}
	e.m.wg.Add(1)
	go func() {
		defer e.m.wg.Done()
		e.m.destroyEngine(e.log, eng)
	}()
}

// engineEvents binds engine callbacks to one connection attempt.
type engineEvents struct {
	e   *entry
	gen uint64
}

func (h *engineEvents) OnQR(image string) {
	h.e.post(func() { h.e.onQR(h.gen, image) })
}

func (h *engineEvents) OnAuthenticated() {
	h.e.post(func() { h.e.onAuthenticated(h.gen) })
}

func (h *engineEvents) OnReady() {
	h.e.post(func() { h.e.onReady(h.gen) })
}

func (h *engineEvents) OnAuthFailure(reason string) {
	h.e.post(func() { h.e.onAuthFailure(h.gen, reason) })
}

func (h *engineEvents) OnDisconnected(reason string) {
	h.e.post(func() { h.e.onDisconnected(h.gen, reason) })
}

func (h *engineEvents) OnMessage(msg InboundMessage) {
	h.e.post(func() { h.e.onMessage(h.gen, msg) })
}
