package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/use-agent/browserpool/api/handler"
	"github.com/use-agent/browserpool/api/middleware"
	"github.com/use-agent/browserpool/cache"
	"github.com/use-agent/browserpool/cleaner"
	"github.com/use-agent/browserpool/config"
	"github.com/use-agent/browserpool/metrics"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Pool      handler.BrowserPool
	Cleaner   *cleaner.Cleaner
	Cache     *cache.Cache           // optional
	Render    *metrics.RenderMetrics // optional
	Gatherer  prometheus.Gatherer    // optional; enables GET /metrics
	StartTime time.Time
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health and metrics stay outside auth so probes and scrapers always work.
// ctx bounds background work started by the middleware.
func NewRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")

	// Health: no auth required.
	v1.GET("/health", handler.Health(deps.Pool, deps.StartTime))
	v1.GET("/health/browser-resources", handler.BrowserResources(deps.Pool))

	// Protected group: auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(ctx, cfg.RateLimit))

	protected.POST("/render", handler.Render(deps.Pool, deps.Cleaner, deps.Cache, deps.Render))

	return r
}
