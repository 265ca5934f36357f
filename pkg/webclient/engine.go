package webclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/harun/wagateway/pkg/browser"
	"github.com/harun/wagateway/pkg/session"
	"github.com/rs/zerolog"
	"github.com/ysmood/gson"
)

const (
	DefaultURL          = "https://web.whatsapp.com"
	DefaultPollInterval = time.Second
	DefaultSendTimeout  = 45 * time.Second
)

var errNotReady = errors.New("web client is not ready")

// Config holds settings shared by every engine a Factory builds.
type Config struct {
	URL          string
	Headless     bool
	NoSandbox    bool
	Flags        []string
	UserAgent    string
	PollInterval time.Duration
	SendTimeout  time.Duration
	Logger       zerolog.Logger
}

// Factory builds browser-backed engines.
type Factory struct {
	cfg Config
}

// NewFactory applies defaults to cfg.
func NewFactory(cfg Config) *Factory {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.Flags == nil {
		cfg.Flags = browser.DefaultFlags
	}
	return &Factory{cfg: cfg}
}

// NewEngine implements session.EngineFactory.
func (f *Factory) NewEngine(opts session.EngineOptions, handler session.EngineHandler) (session.Engine, error) {
	if opts.BrowserPath == "" {
		return nil, fmt.Errorf("browser path is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("event handler is required")
	}
	return &Engine{
		cfg:     f.cfg,
		opts:    opts,
		handler: handler,
		logger: f.cfg.Logger.With().
			Str("component", "webclient").
			Str("session_id", opts.SessionID).
			Logger(),
	}, nil
}

// Engine drives one WhatsApp Web page in its own browser process. The
// browser profile lives in the session's auth directory, so a paired device
// survives restarts.
type Engine struct {
	cfg     Config
	opts    session.EngineOptions
	handler session.EngineHandler
	logger  zerolog.Logger

	mu        sync.Mutex
	proc      *browser.Process
	page      *rod.Page
	cancel    context.CancelFunc
	done      chan struct{}
	track     tracker
	destroyed bool

	sendMu sync.Mutex
}

// Initialize launches the browser, opens the web client and starts watching
// the page. It returns once the page has loaded.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return &browser.BrowserError{Code: browser.ErrCodeBrowserCrash, Message: "engine destroyed"}
	}
	e.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())

	proc, err := browser.Launch(runCtx, browser.LaunchOptions{
		Bin:         e.opts.BrowserPath,
		UserDataDir: e.opts.AuthDir,
		Headless:    e.cfg.Headless,
		NoSandbox:   e.cfg.NoSandbox,
		Flags:       e.cfg.Flags,
	})
	if err != nil {
		cancel()
		return err
	}

	page, err := e.openPage(ctx, proc)
	if err != nil {
		cancel()
		proc.Kill()
		return err
	}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		cancel()
		proc.Kill()
		return &browser.BrowserError{Code: browser.ErrCodeBrowserCrash, Message: "engine destroyed during initialization"}
	}
	e.proc = proc
	e.page = page
	e.cancel = cancel
	e.done = make(chan struct{})
	e.track = tracker{restoring: hasPairedMarker(e.opts.AuthDir)}
	done := e.done
	e.mu.Unlock()

	go func() {
		defer close(done)
		e.watch(runCtx, page)
	}()

	e.logger.Info().Str("url", e.cfg.URL).Msg("Web client started")
	return nil
}

func (e *Engine) openPage(ctx context.Context, proc *browser.Process) (*rod.Page, error) {
	page, err := proc.Browser().Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, &browser.BrowserError{
			Code:    browser.ErrCodeBrowserCrash,
			Message: fmt.Sprintf("Failed to create page: %v", err),
		}
	}

	if e.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: e.cfg.UserAgent}); err != nil {
			return nil, &browser.BrowserError{
				Code:    browser.ErrCodeConfiguration,
				Message: fmt.Sprintf("Failed to set user agent: %v", err),
			}
		}
	}

	if _, err := page.Expose(bindingName, e.onInbound); err != nil {
		return nil, &browser.BrowserError{
			Code:    browser.ErrCodeBrowserCrash,
			Message: fmt.Sprintf("Failed to expose inbound binding: %v", err),
		}
	}
	if _, err := page.EvalOnNewDocument("(" + observerScript + ")()"); err != nil {
		return nil, &browser.BrowserError{
			Code:    browser.ErrCodeBrowserCrash,
			Message: fmt.Sprintf("Failed to install message observer: %v", err),
		}
	}

	nav := page.Context(ctx)
	if err := nav.Navigate(e.cfg.URL); err != nil {
		return nil, &browser.BrowserError{
			Code:    browser.ErrCodeNavigation,
			Message: fmt.Sprintf("Failed to navigate to %s: %v", e.cfg.URL, err),
		}
	}
	if err := nav.WaitLoad(); err != nil {
		return nil, &browser.BrowserError{
			Code:    browser.ErrCodeTimeout,
			Message: fmt.Sprintf("Page load timeout: %v", err),
		}
	}
	return page, nil
}

// watch polls the page until ctx ends or the browser goes away.
func (e *Engine) watch(ctx context.Context, page *rod.Page) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		res, err := page.Context(ctx).Eval(probeScript)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Warn().Err(err).Msg("Page probe failed")
			e.handler.OnDisconnected(err.Error())
			return
		}

		e.mu.Lock()
		actions := e.track.observe(decodeProbe(res.Value))
		e.mu.Unlock()

		for _, a := range actions {
			switch a {
			case actionQR:
				img, err := e.captureQR(ctx, page)
				if err != nil {
					e.logger.Debug().Err(err).Msg("QR capture failed, retrying next poll")
					e.mu.Lock()
					e.track.lastRef = ""
					e.mu.Unlock()
					continue
				}
				e.handler.OnQR(img)
			case actionAuthenticated:
				e.handler.OnAuthenticated()
			case actionReady:
				if err := markPaired(e.opts.AuthDir); err != nil {
					e.logger.Warn().Err(err).Msg("Failed to mark profile as paired")
				}
				e.logger.Info().Msg("Web client ready")
				e.handler.OnReady()
			case actionAuthFailure:
				// The next attempt starts from a pairing screen.
				if err := clearPaired(e.opts.AuthDir); err != nil {
					e.logger.Warn().Err(err).Msg("Failed to clear paired marker")
				}
				e.logger.Warn().Msg("Stored credentials rejected, pairing required")
				e.handler.OnAuthFailure("stored credentials rejected")
				return
			case actionLoggedOut:
				_ = clearPaired(e.opts.AuthDir)
				e.logger.Warn().Msg("Device unlinked from phone")
				e.handler.OnDisconnected("LOGOUT")
				return
			}
		}
	}
}

func (e *Engine) captureQR(ctx context.Context, page *rod.Page) (string, error) {
	el, err := page.Context(ctx).Timeout(5 * time.Second).Element(qrCanvasSelector)
	if err != nil {
		return "", err
	}
	png, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return "", err
	}
	return qrDataURL(png), nil
}

func (e *Engine) onInbound(v gson.JSON) (interface{}, error) {
	msg, ok := decodeInbound(v, time.Now())
	if !ok {
		return false, nil
	}
	e.handler.OnMessage(msg)
	return true, nil
}

// SendMessage opens the chat for to with body pre-filled and presses send.
func (e *Engine) SendMessage(ctx context.Context, to, body string) (string, error) {
	phone, err := NormalizeRecipient(to)
	if err != nil {
		return "", err
	}
	if body == "" {
		return "", fmt.Errorf("message body is empty")
	}

	e.mu.Lock()
	page := e.page
	ready := e.track.ready()
	e.mu.Unlock()
	if page == nil || !ready {
		return "", errNotReady
	}

	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	p := page.Context(ctx).Timeout(e.cfg.SendTimeout)
	if err := p.Navigate(sendURL(e.cfg.URL, phone, body)); err != nil {
		return "", &browser.BrowserError{
			Code:    browser.ErrCodeNavigation,
			Message: fmt.Sprintf("Failed to open chat: %v", err),
		}
	}

	btn, err := p.Element(sendButtonSelector)
	if err != nil {
		return "", &browser.BrowserError{
			Code:    browser.ErrCodeTimeout,
			Message: fmt.Sprintf("Send button did not appear for %s", phone),
		}
	}
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return "", &browser.BrowserError{
			Code:    browser.ErrCodeBrowserCrash,
			Message: fmt.Sprintf("Failed to click send: %v", err),
		}
	}

	e.logger.Debug().Str("to", phone).Msg("Message sent")
	return "", nil
}

// Logout clears the web client's credentials and cookies.
func (e *Engine) Logout(ctx context.Context) error {
	e.mu.Lock()
	page := e.page
	e.mu.Unlock()
	if page == nil {
		return nil
	}

	p := page.Context(ctx)
	if _, err := p.Eval(clearStorageScript); err != nil {
		return fmt.Errorf("failed to clear web storage: %w", err)
	}
	if err := (proto.NetworkClearBrowserCookies{}).Call(p); err != nil {
		return fmt.Errorf("failed to clear cookies: %w", err)
	}
	return nil
}

// Destroy stops the watcher and kills the browser. Safe to call repeatedly.
func (e *Engine) Destroy(ctx context.Context) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return nil
	}
	e.destroyed = true
	proc, cancel, done := e.proc, e.cancel, e.done
	e.proc, e.page, e.cancel = nil, nil, nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			e.logger.Warn().Msg("Watcher did not stop before destroy deadline")
		}
	}
	if proc != nil {
		proc.Kill()
	}

	e.logger.Debug().Msg("Web client destroyed")
	return nil
}
