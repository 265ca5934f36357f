package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/wagateway/internal/config"
	"github.com/harun/wagateway/internal/logger"
	"github.com/harun/wagateway/pkg/gateway"
	"github.com/harun/wagateway/pkg/session"
	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	destroyed atomic.Int32
}

func (e *stubEngine) Initialize(context.Context) error { return nil }

func (e *stubEngine) SendMessage(context.Context, string, string) (string, error) {
	return "stub-1", nil
}

func (e *stubEngine) Logout(context.Context) error { return nil }

func (e *stubEngine) Destroy(context.Context) error {
	e.destroyed.Add(1)
	return nil
}

type stubFactory struct {
	mu      sync.Mutex
	engines map[string]*stubEngine
}

func newStubFactory() *stubFactory {
	return &stubFactory{engines: make(map[string]*stubEngine)}
}

func (f *stubFactory) NewEngine(opts session.EngineOptions, _ session.EngineHandler) (session.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	eng := &stubEngine{}
	f.engines[opts.SessionID] = eng
	return eng, nil
}

type stubResolver struct {
	calls atomic.Int32
	err   error
}

func (r *stubResolver) Resolve(context.Context) (string, error) {
	r.calls.Add(1)
	if r.err != nil {
		return "", r.err
	}
	return "/usr/bin/chromium", nil
}

func testConfig(t *testing.T, dataDir string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = 0
	cfg.Gateway.ShutdownTimeout = 5 * time.Second
	cfg.Sessions.AuthDir = filepath.Join(dataDir, "sessions")
	cfg.Store.Path = filepath.Join(dataDir, "sessions.db")
	cfg.Browser.DownloadDir = filepath.Join(dataDir, "browser")
	cfg.Maintenance.Schedule = "@every 1h"
	cfg.Logging.Console = false
	return cfg
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{
		Level: "error",
		File:  filepath.Join(t.TempDir(), "test.log"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func rpc(t *testing.T, addr, method string, params map[string]interface{}) gateway.RPCResponse {
	t.Helper()
	body, err := json.Marshal(gateway.RPCRequest{ID: "1", Method: method, Params: params})
	require.NoError(t, err)

	resp, err := http.Post("http://"+addr+"/rpc", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out gateway.RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}
