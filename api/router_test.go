package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/browserpool/browser"
	"github.com/use-agent/browserpool/cleaner"
	"github.com/use-agent/browserpool/config"
	"github.com/use-agent/browserpool/manager"
	"github.com/use-agent/browserpool/metrics"
	"github.com/use-agent/browserpool/models"
	"github.com/use-agent/browserpool/monitor"
	"github.com/use-agent/browserpool/pool"
)

type fakeBrowser struct{ id string }

func (b *fakeBrowser) Initialize(context.Context) error { return nil }
func (b *fakeBrowser) Close() error                     { return nil }
func (b *fakeBrowser) IsHealthy(context.Context) bool   { return true }
func (b *fakeBrowser) ID() string                       { return b.id }

func (b *fakeBrowser) Render(_ context.Context, req *models.RenderRequest) (*browser.Result, error) {
	return &browser.Result{
		HTML:       "<html><head><title>T</title></head><body><p>ok</p></body></html>",
		StatusCode: 200,
		FinalURL:   req.URL,
	}, nil
}

type zeroSampler struct{}

func (zeroSampler) Usage() (float64, float64, error) { return 0, 0, nil }

func newTestRouter(t *testing.T, mutate func(*config.Config)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Server:    config.ServerConfig{Mode: gin.TestMode},
		Auth:      config.AuthConfig{Enabled: true, APIKeys: []string{"secret"}},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 100, Burst: 100},
	}
	if mutate != nil {
		mutate(cfg)
	}

	n := 0
	mgr := manager.NewWithFactory(func(context.Context) (manager.Browser, error) {
		n++
		return &fakeBrowser{id: strings.Repeat("b", n)}, nil
	}, pool.Config{MaxSize: 2}, pool.WithMonitor(monitor.New(monitor.WithSampler(zeroSampler{}))))
	t.Cleanup(mgr.CloseAll)

	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(mgr))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return NewRouter(ctx, cfg, Deps{
		Pool:      mgr,
		Cleaner:   cleaner.NewCleaner(),
		Render:    metrics.NewRenderMetrics(reg),
		Gatherer:  reg,
		StartTime: time.Now(),
	})
}

func do(r http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_HealthIsPublic(t *testing.T) {
	r := newTestRouter(t, nil)

	w := do(r, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	w = do(r, http.MethodGet, "/api/v1/health/browser-resources", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"max_size":2`)
}

func TestRouter_RenderRequiresAPIKey(t *testing.T) {
	r := newTestRouter(t, nil)
	body := `{"url":"https://example.com"}`

	w := do(r, http.MethodPost, "/api/v1/render", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/api/v1/render", body, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), models.ErrCodeUnauthorized)

	w = do(r, http.MethodPost, "/api/v1/render", body, map[string]string{"Authorization": "Bearer secret"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"success":true`)
}

func TestRouter_RateLimit(t *testing.T) {
	r := newTestRouter(t, func(cfg *config.Config) {
		cfg.Auth.Enabled = false
		cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}
	})
	body := `{"url":"https://example.com"}`

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/v1/render", body, nil).Code)

	w := do(r, http.MethodPost, "/api/v1/render", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), models.ErrCodeRateLimited)
}

func TestRouter_Metrics(t *testing.T) {
	r := newTestRouter(t, func(cfg *config.Config) { cfg.Auth.Enabled = false })

	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/v1/render", `{"url":"https://example.com"}`, nil).Code)

	w := do(r, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := w.Body.String()
	assert.Contains(t, out, "browserpool_total_browsers 2")
	assert.Contains(t, out, `browserpool_circuit_state{state="closed"} 1`)
	assert.Contains(t, out, `browserpool_render_requests_total{code="ok"} 1`)
}
