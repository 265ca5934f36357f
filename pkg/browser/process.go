package browser

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
)

// LaunchOptions describes one browser process.
type LaunchOptions struct {
	Bin         string
	UserDataDir string
	Headless    bool
	NoSandbox   bool
	// Flags are "name" or "name=value" switches without leading dashes.
	Flags []string
}

// Process is a launched browser with a CDP connection.
type Process struct {
	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	running  bool
}

// Launch starts a browser and connects to its DevTools endpoint.
func Launch(ctx context.Context, opts LaunchOptions) (*Process, error) {
	if opts.Bin == "" {
		return nil, &BrowserError{
			Code:    ErrCodeConfiguration,
			Message: "browser binary not set",
		}
	}
	if opts.UserDataDir != "" {
		if err := os.MkdirAll(opts.UserDataDir, 0700); err != nil {
			return nil, &BrowserError{
				Code:    ErrCodeConfiguration,
				Message: fmt.Sprintf("Failed to create user data directory: %v", err),
			}
		}
	}

	l := launcher.New().
		Context(ctx).
		Bin(opts.Bin).
		Headless(opts.Headless).
		NoSandbox(opts.NoSandbox).
		Leakless(false)
	if opts.UserDataDir != "" {
		l = l.UserDataDir(opts.UserDataDir)
	}
	for _, raw := range opts.Flags {
		name, values := ParseFlag(raw)
		if name == "" {
			continue
		}
		l = l.Set(flags.Flag(name), values...)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, &BrowserError{
			Code:    ErrCodeBrowserCrash,
			Message: fmt.Sprintf("Failed to launch browser: %v", err),
		}
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, &BrowserError{
			Code:    ErrCodeBrowserCrash,
			Message: fmt.Sprintf("Failed to connect to CDP: %v", err),
		}
	}

	return &Process{
		launcher: l,
		browser:  b,
		running:  true,
	}, nil
}

// Browser returns the connected browser.
func (p *Process) Browser() *rod.Browser {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.browser
}

// IsRunning reports whether Kill has not been called yet.
func (p *Process) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Kill closes the CDP connection and terminates the process. It is safe to
// call more than once.
func (p *Process) Kill() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.running = false

	if p.browser != nil {
		_ = p.browser.Close()
		p.browser = nil
	}
	if p.launcher != nil {
		p.launcher.Kill()
		p.launcher = nil
	}
}

// ParseFlag splits "name=value" into a launcher flag and its values. A
// leading "--" is tolerated.
func ParseFlag(raw string) (string, []string) {
	raw = strings.TrimLeft(strings.TrimSpace(raw), "-")
	if raw == "" {
		return "", nil
	}
	name, value, found := strings.Cut(raw, "=")
	if !found {
		return name, nil
	}
	return name, []string{value}
}
