package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	opts    EngineOptions
	handler EngineHandler

	initErr   error
	sendErr   error
	logoutErr error

	initialized atomic.Int32
	destroyed   atomic.Int32
	loggedOut   atomic.Int32

	mu   sync.Mutex
	sent []string
}

func (f *fakeEngine) Initialize(ctx context.Context) error {
	f.initialized.Add(1)
	return f.initErr
}

func (f *fakeEngine) SendMessage(ctx context.Context, to, body string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to+":"+body)
	return "msg-1", nil
}

func (f *fakeEngine) Logout(ctx context.Context) error {
	f.loggedOut.Add(1)
	return f.logoutErr
}

func (f *fakeEngine) Destroy(ctx context.Context) error {
	f.destroyed.Add(1)
	return nil
}

type fakeFactory struct {
	mu      sync.Mutex
	engines []*fakeEngine
	created chan *fakeEngine

	initErr func(n int) error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{created: make(chan *fakeEngine, 64)}
}

func (f *fakeFactory) NewEngine(opts EngineOptions, handler EngineHandler) (Engine, error) {
	f.mu.Lock()
	eng := &fakeEngine{opts: opts, handler: handler}
	if f.initErr != nil {
		eng.initErr = f.initErr(len(f.engines))
	}
	f.engines = append(f.engines, eng)
	f.mu.Unlock()

	f.created <- eng
	return eng, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}

func (f *fakeFactory) next(t *testing.T) *fakeEngine {
	t.Helper()
	select {
	case eng := <-f.created:
		require.Eventually(t, func() bool { return eng.initialized.Load() > 0 }, time.Second, 5*time.Millisecond)
		return eng
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for engine construction")
		return nil
	}
}

type staticResolver struct {
	path string
	err  error
}

func (r staticResolver) Resolve(context.Context) (string, error) {
	return r.path, r.err
}

type published struct {
	eventType string
	data      interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(eventType string, data interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{eventType: eventType, data: data})
}

func (p *recordingPublisher) states(id string) []State {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []State
	for _, ev := range p.events {
		if st, ok := ev.data.(StatusPayload); ok && st.ID == id {
			out = append(out, st.State)
		}
	}
	return out
}

func (p *recordingPublisher) qrs(id string) []QRPayload {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []QRPayload
	for _, ev := range p.events {
		if qr, ok := ev.data.(QRPayload); ok && qr.ID == id {
			out = append(out, qr)
		}
	}
	return out
}

type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: make(map[string]Session)}
}

func (s *memoryStore) Save(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *memoryStore) Touch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok && at.After(sess.LastActivity) {
		sess.LastActivity = at
		s.sessions[id] = sess
	}
	return nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *memoryStore) List(context.Context) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out, nil
}

func (s *memoryStore) get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// gatedStore holds every Touch until release is closed.
type gatedStore struct {
	*memoryStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		memoryStore: newMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (s *gatedStore) Touch(ctx context.Context, id string, at time.Time) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.memoryStore.Touch(ctx, id, at)
}

// slowStore holds every Save until release is closed.
type slowStore struct {
	*memoryStore
	release chan struct{}
}

func (s *slowStore) Save(ctx context.Context, sess Session) error {
	<-s.release
	return s.memoryStore.Save(ctx, sess)
}

type testManager struct {
	*Manager
	factory *fakeFactory
	events  *recordingPublisher
	store   *memoryStore
	auth    *DirAuthStore
}

func newTestManager(t *testing.T, mutate func(*Config)) *testManager {
	t.Helper()

	tm := &testManager{
		factory: newFakeFactory(),
		events:  &recordingPublisher{},
		store:   newMemoryStore(),
		auth:    NewDirAuthStore(t.TempDir()),
	}
	cfg := Config{
		Factory:         tm.factory,
		Resolver:        staticResolver{path: "/usr/bin/chromium"},
		Auth:            tm.auth,
		Store:           tm.store,
		Events:          tm.events,
		Policy:          FixedDelayPolicy{Interval: time.Hour},
		WatchdogTimeout: time.Hour,
		Logger:          zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	m, err := NewManager(cfg)
	require.NoError(t, err)
	tm.Manager = m

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return tm
}

// stored flushes pending writes and returns the persisted record for id.
func (tm *testManager) stored(t *testing.T, id string) (Session, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tm.persist.flush(ctx))
	return tm.store.get(id)
}

func (tm *testManager) waitState(t *testing.T, id string, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, ok := tm.Registry().Get(id)
		return ok && s.State == want
	}, 2*time.Second, 5*time.Millisecond, "session %s never reached %s", id, want)
}

// connect drives a fresh session to Connected and returns its engine.
func (tm *testManager) connect(t *testing.T, id string) *fakeEngine {
	t.Helper()
	_, err := tm.Create(context.Background(), id)
	require.NoError(t, err)

	eng := tm.factory.next(t)
	eng.handler.OnReady()
	tm.waitState(t, id, StateConnected)
	return eng
}

var errProtocol = errors.New("Protocol error (Target.attachToTarget): Target closed")
