package browser

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/rs/zerolog"
)

// ResolverConfig controls where the resolver looks for a browser.
type ResolverConfig struct {
	// Bin is an explicitly configured executable, tried first.
	Bin string
	// Candidates overrides KnownPaths when non-nil.
	Candidates []string
	// AllowDownload lets the resolver fetch a managed Chromium build.
	AllowDownload bool
	// DownloadDir is where managed builds are stored.
	DownloadDir string
	Logger      zerolog.Logger
}

// Resolver locates or provisions a browser executable. The last good path
// is cached and re-validated on every call.
type Resolver struct {
	bin           string
	candidates    []string
	allowDownload bool
	downloadDir   string
	logger        zerolog.Logger

	lookPath   func() (string, bool)
	download   func(ctx context.Context, dir string) (string, error)
	executable func(path string) bool

	mu     sync.Mutex
	cached string
}

// NewResolver creates a resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	candidates := cfg.Candidates
	if candidates == nil {
		candidates = KnownPaths
	}
	return &Resolver{
		bin:           cfg.Bin,
		candidates:    candidates,
		allowDownload: cfg.AllowDownload,
		downloadDir:   cfg.DownloadDir,
		logger:        cfg.Logger.With().Str("component", "browser-resolver").Logger(),
		lookPath:      launcher.LookPath,
		download:      downloadBrowser,
		executable:    isExecutable,
	}
}

// Resolve returns a usable browser path or a RUNTIME_UNAVAILABLE error.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != "" {
		if r.executable(r.cached) {
			return r.cached, nil
		}
		r.logger.Warn().Str("path", r.cached).Msg("Cached browser path no longer usable")
		r.cached = ""
	}

	path, source, err := r.resolve(ctx)
	if err != nil {
		return "", err
	}

	r.cached = path
	r.logger.Info().Str("path", path).Str("source", source).Msg("Browser runtime resolved")
	return path, nil
}

// Cached returns the last resolved path, if any.
func (r *Resolver) Cached() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cached
}

func (r *Resolver) resolve(ctx context.Context) (string, string, error) {
	if r.bin != "" {
		if r.executable(r.bin) {
			return r.bin, "config", nil
		}
		r.logger.Warn().Str("path", r.bin).Msg("Configured browser binary is not executable, probing system paths")
	}

	for _, p := range r.candidates {
		if r.executable(p) {
			return p, "system", nil
		}
	}

	if p, ok := r.lookPath(); ok && r.executable(p) {
		return p, "lookpath", nil
	}

	if !r.allowDownload {
		return "", "", &BrowserError{
			Code:    ErrCodeRuntimeUnavailable,
			Message: "no browser executable found and download is disabled",
			Details: map[string]interface{}{"candidates": r.candidates},
		}
	}

	r.logger.Info().Str("dir", r.downloadDir).Msg("Downloading managed browser")
	p, err := r.download(ctx, r.downloadDir)
	if err != nil {
		return "", "", &BrowserError{
			Code:    ErrCodeRuntimeUnavailable,
			Message: fmt.Sprintf("failed to download browser: %v", err),
		}
	}
	if !r.executable(p) {
		return "", "", &BrowserError{
			Code:    ErrCodeRuntimeUnavailable,
			Message: fmt.Sprintf("downloaded browser at %s is not executable", p),
		}
	}
	return p, "download", nil
}

func downloadBrowser(ctx context.Context, dir string) (string, error) {
	b := launcher.NewBrowser()
	b.Context = ctx
	if strings.TrimSpace(dir) != "" {
		b.RootDir = dir
	}
	return b.Get()
}

func isExecutable(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}
