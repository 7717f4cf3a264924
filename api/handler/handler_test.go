package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/browserpool/breaker"
	"github.com/use-agent/browserpool/browser"
	"github.com/use-agent/browserpool/cache"
	"github.com/use-agent/browserpool/cleaner"
	"github.com/use-agent/browserpool/manager"
	"github.com/use-agent/browserpool/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubBrowser struct {
	html  string
	err   error
	calls int
}

func (b *stubBrowser) Initialize(context.Context) error { return nil }
func (b *stubBrowser) Close() error                     { return nil }
func (b *stubBrowser) IsHealthy(context.Context) bool   { return true }
func (b *stubBrowser) ID() string                       { return "stub-1" }

func (b *stubBrowser) Render(_ context.Context, req *models.RenderRequest) (*browser.Result, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return &browser.Result{HTML: b.html, Title: "js title", StatusCode: 200, FinalURL: req.URL}, nil
}

type stubPool struct {
	stats      models.PoolStats
	statsErr   error
	acquireErr error
	browser    *stubBrowser
}

func (p *stubPool) Stats(context.Context) (models.PoolStats, error) {
	return p.stats, p.statsErr
}

func (p *stubPool) WithBrowser(ctx context.Context, fn func(context.Context, manager.Browser) error) error {
	if p.acquireErr != nil {
		return p.acquireErr
	}
	return fn(ctx, p.browser)
}

func healthyStats() models.PoolStats {
	return models.PoolStats{
		AvailableCount: 3,
		TotalCount:     3,
		MaxSize:        3,
		CircuitBreaker: breaker.Info{State: breaker.StateClosed},
	}
}

func serve(h gin.HandlerFunc, method, body string) *httptest.ResponseRecorder {
	r := gin.New()
	r.Handle(method, "/", h)
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	start := time.Now().Add(-time.Minute)

	tests := []struct {
		name       string
		pool       *stubPool
		wantCode   int
		wantStatus string
	}{
		{"healthy", &stubPool{stats: healthyStats()}, http.StatusOK, "healthy"},
		{"circuit open", &stubPool{stats: func() models.PoolStats {
			s := healthyStats()
			s.CircuitBreaker.State = breaker.StateOpen
			return s
		}()}, http.StatusServiceUnavailable, "unhealthy"},
		{"over leased", &stubPool{stats: func() models.PoolStats {
			s := healthyStats()
			s.AcquiredCount = 4
			return s
		}()}, http.StatusServiceUnavailable, "unhealthy"},
		{"stats error", &stubPool{statsErr: models.NewPoolError(models.ErrCodeInitFailed, "boom", nil)},
			http.StatusServiceUnavailable, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(Health(tt.pool, start), http.MethodGet, "")
			assert.Equal(t, tt.wantCode, w.Code)

			resp := decode[models.HealthResponse](t, w)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, Version, resp.Version)
			assert.Equal(t, "1m0s", resp.Uptime)
		})
	}
}

func TestBrowserResources(t *testing.T) {
	w := serve(BrowserResources(&stubPool{stats: healthyStats()}), http.MethodGet, "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 3, body["available_count"])
	cb := body["circuit_breaker"].(map[string]any)
	assert.Equal(t, "closed", cb["state"])
	assert.Contains(t, body, "monitor_metrics")
	assert.Contains(t, body, "average_metrics")

	w = serve(BrowserResources(&stubPool{statsErr: models.NewPoolError(models.ErrCodePoolClosed, "closed", nil)}), http.MethodGet, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), models.ErrCodePoolClosed)
}

const page = `<html lang="en"><head><title>Doc</title></head><body><main><h1>Hi</h1></main><footer>f</footer></body></html>`

func TestRender_Success(t *testing.T) {
	bp := &stubPool{browser: &stubBrowser{html: page}}
	h := Render(bp, cleaner.NewCleaner(), nil, nil)

	w := serve(h, http.MethodPost, `{"url":"https://example.com","output_format":"markdown","css_selector":"main"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[models.RenderResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "# Hi", strings.TrimSpace(resp.Content))
	assert.Equal(t, "Doc", resp.Metadata.Title)
	assert.Equal(t, "en", resp.Metadata.Language)
	assert.Equal(t, "https://example.com", resp.Metadata.SourceURL)
	assert.Equal(t, "stub-1", resp.BrowserID)
	assert.Empty(t, resp.CacheStatus)
}

func TestRender_Cache(t *testing.T) {
	sb := &stubBrowser{html: page}
	cc := cache.New(10)
	defer cc.Close()
	h := Render(&stubPool{browser: sb}, cleaner.NewCleaner(), cc, nil)

	body := `{"url":"https://example.com","max_age":60000}`
	first := decode[models.RenderResponse](t, serve(h, http.MethodPost, body))
	second := decode[models.RenderResponse](t, serve(h, http.MethodPost, body))

	assert.Equal(t, "miss", first.CacheStatus)
	assert.Equal(t, "hit", second.CacheStatus)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, 1, sb.calls)
}

func TestRender_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		pool     *stubPool
		wantCode int
		wantErr  string
	}{
		{
			name:     "circuit open",
			pool:     &stubPool{acquireErr: models.NewPoolError(models.ErrCodeCircuitOpen, "open", breaker.ErrCircuitOpen)},
			wantCode: http.StatusServiceUnavailable,
			wantErr:  models.ErrCodeCircuitOpen,
		},
		{
			name:     "acquire timeout",
			pool:     &stubPool{acquireErr: models.NewPoolError(models.ErrCodeAcquireTimeout, "busy", context.DeadlineExceeded)},
			wantCode: http.StatusGatewayTimeout,
			wantErr:  models.ErrCodeAcquireTimeout,
		},
		{
			name:     "navigation failed",
			pool:     &stubPool{browser: &stubBrowser{err: models.NewPoolError(models.ErrCodeNavigation, "dns", nil)}},
			wantCode: http.StatusBadGateway,
			wantErr:  models.ErrCodeNavigation,
		},
		{
			name:     "render timeout",
			pool:     &stubPool{browser: &stubBrowser{err: models.NewPoolError(models.ErrCodeRenderTimeout, "slow", nil)}},
			wantCode: http.StatusGatewayTimeout,
			wantErr:  models.ErrCodeRenderTimeout,
		},
		{
			name:     "untyped error",
			pool:     &stubPool{acquireErr: assert.AnError},
			wantCode: http.StatusInternalServerError,
			wantErr:  models.ErrCodeInternal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(Render(tt.pool, cleaner.NewCleaner(), nil, nil), http.MethodPost, `{"url":"https://example.com"}`)
			assert.Equal(t, tt.wantCode, w.Code)

			resp := decode[models.RenderResponse](t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantErr, resp.Error.Code)
		})
	}
}

func TestRender_InvalidInput(t *testing.T) {
	h := Render(&stubPool{browser: &stubBrowser{}}, cleaner.NewCleaner(), nil, nil)

	for _, body := range []string{
		`{}`,
		`{"url":"not a url"}`,
		`{"url":"https://example.com","output_format":"pdf"}`,
		`{"url":"https://example.com","timeout":500}`,
	} {
		w := serve(h, http.MethodPost, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		resp := decode[models.RenderResponse](t, w)
		assert.Equal(t, models.ErrCodeInvalidInput, resp.Error.Code)
	}

	w := serve(h, http.MethodPost, `{"url":"https://example.com","css_selector":"a["}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
