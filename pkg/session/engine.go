package session

import (
	"context"
	"time"
)

// Engine is one tenant's connection to the chat service. Implementations
// must be safe to Destroy after a failed Initialize.
type Engine interface {
	Initialize(ctx context.Context) error
	SendMessage(ctx context.Context, to, body string) (string, error)
	Logout(ctx context.Context) error
	Destroy(ctx context.Context) error
}

// EngineHandler receives engine events. Methods may be called from any
// goroutine and must not block.
type EngineHandler interface {
	OnQR(image string)
	OnAuthenticated()
	OnReady()
	OnAuthFailure(reason string)
	OnDisconnected(reason string)
	OnMessage(msg InboundMessage)
}

// EngineOptions describes the engine to build for one session.
type EngineOptions struct {
	SessionID   string
	BrowserPath string
	AuthDir     string
}

// EngineFactory constructs engines bound to a handler.
type EngineFactory interface {
	NewEngine(opts EngineOptions, handler EngineHandler) (Engine, error)
}

// EngineFactoryFunc adapts a function to EngineFactory.
type EngineFactoryFunc func(opts EngineOptions, handler EngineHandler) (Engine, error)

func (f EngineFactoryFunc) NewEngine(opts EngineOptions, handler EngineHandler) (Engine, error) {
	return f(opts, handler)
}

// RuntimeResolver locates a usable browser executable.
type RuntimeResolver interface {
	Resolve(ctx context.Context) (string, error)
}

// AuthStore owns persisted authentication material per session.
type AuthStore interface {
	Path(id string) (string, error)
	Remove(id string) error
}

// Store persists the session index across restarts.
type Store interface {
	Save(ctx context.Context, s Session) error
	// Touch updates the last activity of an existing record only.
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Session, error)
}

// Publisher fans events out to observers.
type Publisher interface {
	Publish(eventType string, data interface{})
}

// Observer receives lifecycle measurements.
type Observer interface {
	Transition(from, to State)
	Reconnect(id string, delay time.Duration)
	WatchdogFired(id string)
	SendResult(err error, elapsed time.Duration)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, interface{}) {}

type nopObserver struct{}

func (nopObserver) Transition(State, State) {}
func (nopObserver) Reconnect(string, time.Duration) {}
func (nopObserver) WatchdogFired(string) {}
func (nopObserver) SendResult(error, time.Duration) {}
