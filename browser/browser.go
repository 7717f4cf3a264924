// Package browser provides a pooled headless Chromium instance driven by go-rod.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"github.com/use-agent/browserpool/config"
)

// ErrNotInitialized is returned by operations on a browser that has not been
// launched yet, or that has been closed.
var ErrNotInitialized = errors.New("browser: not initialized")

// Browser is one Chromium process with a single CDP connection. Besides the
// pool's resource contract it reports liveness and open tabs to the monitor.
// Render may be called concurrently, though the pool leases a Browser to one
// caller at a time.
type Browser struct {
	id         string
	browserCfg config.BrowserConfig
	renderCfg  config.RenderConfig
	createdAt  time.Time

	// blockedTypes is parsed once from renderCfg.BlockedResourceTypes.
	blockedTypes map[proto.NetworkResourceType]bool

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	pages    map[*rod.Page]struct{}

	activePages     atomic.Int32
	blockedRequests atomic.Int64
}

// New returns an unlaunched browser. Call Initialize to start Chromium.
func New(browserCfg config.BrowserConfig, renderCfg config.RenderConfig) *Browser {
	return &Browser{
		id:         uuid.NewString(),
		browserCfg: browserCfg,
		renderCfg:  renderCfg,
		createdAt:  time.Now(),
		pages:      make(map[*rod.Page]struct{}),

		blockedTypes: parseResourceTypes(renderCfg.BlockedResourceTypes),
	}
}

// BlockedRequests is the number of subresource requests refused across
// every render on this browser.
func (b *Browser) BlockedRequests() int64 { return b.blockedRequests.Load() }

// ID is a unique identifier assigned at construction.
func (b *Browser) ID() string { return b.id }

// CreatedAt reports when the browser was constructed.
func (b *Browser) CreatedAt() time.Time { return b.createdAt }

func (b *Browser) newLauncher() *launcher.Launcher {
	l := launcher.New().
		Headless(b.browserCfg.Headless).
		NoSandbox(b.browserCfg.NoSandbox)

	if b.browserCfg.BrowserBin != "" {
		l = l.Bin(b.browserCfg.BrowserBin)
	}
	if b.browserCfg.DefaultProxy != "" {
		l = l.Proxy(b.browserCfg.DefaultProxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))
	return l
}

// Initialize launches Chromium and connects to it. ctx bounds the launch;
// it is not retained by the browser afterwards.
func (b *Browser) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return nil
	}

	// The launcher only keeps ctx for the launch itself; cancelling it
	// aborts the binary download or the wait for the DevTools URL.
	l := b.newLauncher().Context(ctx)
	controlURL, err := l.Launch()
	if err != nil {
		l.Kill()
		return fmt.Errorf("launch browser: %w", err)
	}

	rb := rod.New().ControlURL(controlURL)
	if err := rb.Connect(); err != nil {
		l.Kill()
		return fmt.Errorf("connect to browser: %w", err)
	}

	b.launcher = l
	b.browser = rb
	slog.Info("browser: launched", "id", b.id, "controlURL", controlURL)
	return nil
}

// Close closes every open tab, the CDP connection and the Chromium process.
// It is safe to call more than once.
func (b *Browser) Close() error {
	b.mu.Lock()
	rb, l, pages := b.browser, b.launcher, b.pages
	b.browser, b.launcher = nil, nil
	b.pages = make(map[*rod.Page]struct{})
	b.mu.Unlock()

	if rb == nil {
		return nil
	}

	var errs []error
	for p := range pages {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
	}
	if err := rb.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
	}
	if l != nil {
		l.Kill()
		l.Cleanup()
	}

	slog.Info("browser: closed", "id", b.id)
	return errors.Join(errs...)
}

// IsHealthy reports whether the CDP connection answers a version query.
func (b *Browser) IsHealthy(ctx context.Context) bool {
	rb := b.current()
	if rb == nil {
		return false
	}
	_, err := proto.BrowserGetVersion{}.Call(rb.Context(ctx))
	if err != nil {
		slog.Debug("browser: health check failed", "id", b.id, "error", err)
		return false
	}
	return true
}

// IsActive reports whether the browser is launched.
func (b *Browser) IsActive() bool {
	return b.current() != nil
}

// ActivePages is the number of tabs currently rendering.
func (b *Browser) ActivePages() int {
	return int(b.activePages.Load())
}

func (b *Browser) current() *rod.Browser {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.browser
}

func (b *Browser) openPage() (*rod.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil, ErrNotInitialized
	}
	page, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}
	b.pages[page] = struct{}{}
	return page, nil
}

func (b *Browser) closePage(page *rod.Page) {
	b.mu.Lock()
	_, tracked := b.pages[page]
	delete(b.pages, page)
	b.mu.Unlock()

	if !tracked {
		return // Close already took care of it
	}
	if err := page.Close(); err != nil {
		slog.Warn("browser: failed to close page", "id", b.id, "error", err)
	}
}
