package webclient

import (
	"context"
	"testing"

	"github.com/harun/wagateway/pkg/browser"
	"github.com/harun/wagateway/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopHandler struct{}

func (nopHandler) OnQR(string) {}
func (nopHandler) OnAuthenticated() {}
func (nopHandler) OnReady() {}
func (nopHandler) OnAuthFailure(string) {}
func (nopHandler) OnDisconnected(string) {}
func (nopHandler) OnMessage(session.InboundMessage) {}

func TestFactory_Defaults(t *testing.T) {
	f := NewFactory(Config{})
	assert.Equal(t, DefaultURL, f.cfg.URL)
	assert.Equal(t, DefaultPollInterval, f.cfg.PollInterval)
	assert.Equal(t, DefaultSendTimeout, f.cfg.SendTimeout)
	assert.Equal(t, browser.DefaultFlags, f.cfg.Flags)
}

func TestFactory_RequiresBrowserPath(t *testing.T) {
	f := NewFactory(Config{})

	_, err := f.NewEngine(session.EngineOptions{SessionID: "a"}, nopHandler{})
	assert.Error(t, err)

	_, err = f.NewEngine(session.EngineOptions{SessionID: "a", BrowserPath: "/bin/chrome"}, nil)
	assert.Error(t, err)
}

func TestEngine_SendBeforeReady(t *testing.T) {
	f := NewFactory(Config{})
	eng, err := f.NewEngine(session.EngineOptions{SessionID: "a", BrowserPath: "/bin/chrome"}, nopHandler{})
	require.NoError(t, err)

	_, err = eng.SendMessage(context.Background(), "6281234567890", "hi")
	assert.ErrorIs(t, err, errNotReady)

	_, err = eng.SendMessage(context.Background(), "x", "hi")
	assert.Error(t, err)
}

func TestEngine_DestroyIsIdempotent(t *testing.T) {
	f := NewFactory(Config{})
	eng, err := f.NewEngine(session.EngineOptions{SessionID: "a", BrowserPath: "/bin/chrome"}, nopHandler{})
	require.NoError(t, err)

	require.NoError(t, eng.Destroy(context.Background()))
	require.NoError(t, eng.Destroy(context.Background()))
	assert.NoError(t, eng.Logout(context.Background()))

	err = eng.Initialize(context.Background())
	var be *browser.BrowserError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, browser.ErrCodeBrowserCrash, be.Code)
}
