// Package manager binds the generic resource pool to pooled browsers and
// gives callers a small acquire/return facade.
package manager

import (
	"context"
	"log/slog"

	"github.com/use-agent/browserpool/browser"
	"github.com/use-agent/browserpool/config"
	"github.com/use-agent/browserpool/models"
	"github.com/use-agent/browserpool/pool"
)

// Browser is a pooled browser as seen by callers. *browser.Browser is the
// production implementation.
type Browser interface {
	pool.Resource
	ID() string
	Render(ctx context.Context, req *models.RenderRequest) (*browser.Result, error)
}

var _ Browser = (*browser.Browser)(nil)

// BrowserPoolManager delegates to a pool.Pool of browsers. It holds no state
// of its own and passes pool errors through unchanged.
type BrowserPoolManager struct {
	pool *pool.Pool[Browser]
}

// New builds a manager that launches Chromium browsers configured by cfg.
func New(cfg *config.Config, opts ...pool.Option) *BrowserPoolManager {
	factory := func(context.Context) (Browser, error) {
		return browser.New(cfg.Browser, cfg.Render), nil
	}
	return NewWithFactory(factory, cfg.Pool.PoolOptions(), opts...)
}

// NewWithFactory builds a manager over an arbitrary browser factory.
func NewWithFactory(factory pool.Factory[Browser], cfg pool.Config, opts ...pool.Option) *BrowserPoolManager {
	return &BrowserPoolManager{pool: pool.New(factory, cfg, opts...)}
}

// Initialize launches every browser in the pool.
func (m *BrowserPoolManager) Initialize(ctx context.Context) error {
	return m.pool.Initialize(ctx)
}

// GetAvailableBrowser leases a browser, waiting for one to be returned when
// all are busy.
func (m *BrowserPoolManager) GetAvailableBrowser(ctx context.Context) (Browser, error) {
	slog.Debug("manager: waiting for available browser")
	b, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, acquired := m.pool.Occupancy()
	slog.Info("manager: browser retrieved from pool",
		"id", b.ID(),
		"usage", acquired,
		"size", m.Size(),
	)
	return b, nil
}

// ReturnBrowser hands b back to the pool.
func (m *BrowserPoolManager) ReturnBrowser(b Browser) {
	slog.Debug("manager: returning browser to pool", "id", b.ID())
	m.pool.Release(b)

	_, acquired := m.pool.Occupancy()
	slog.Info("manager: browser returned to pool",
		"id", b.ID(),
		"usage", acquired,
		"size", m.Size(),
	)
}

// WithBrowser runs fn with a leased browser and returns it on every exit path.
func (m *BrowserPoolManager) WithBrowser(ctx context.Context, fn func(ctx context.Context, b Browser) error) error {
	b, err := m.GetAvailableBrowser(ctx)
	if err != nil {
		return err
	}
	defer m.ReturnBrowser(b)
	return fn(ctx, b)
}

// CloseAll shuts down every browser.
func (m *BrowserPoolManager) CloseAll() {
	slog.Info("manager: closing all browsers in pool")
	m.pool.CloseAll()
	slog.Info("manager: all browsers in pool closed")
}

// Stats reports pool occupancy, circuit state and resource metrics.
func (m *BrowserPoolManager) Stats(ctx context.Context) (models.PoolStats, error) {
	return m.pool.Stats(ctx)
}

// Pool exposes the underlying pool for advanced operations.
func (m *BrowserPoolManager) Pool() *pool.Pool[Browser] {
	return m.pool
}

// Size is the configured number of browsers.
func (m *BrowserPoolManager) Size() int {
	return m.pool.MaxSize()
}
