package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/browserpool/cache"
	"github.com/use-agent/browserpool/cleaner"
	"github.com/use-agent/browserpool/manager"
	"github.com/use-agent/browserpool/metrics"
	"github.com/use-agent/browserpool/models"
)

// BrowserPool is the part of the manager the handlers depend on.
type BrowserPool interface {
	Stats(ctx context.Context) (models.PoolStats, error)
	WithBrowser(ctx context.Context, fn func(ctx context.Context, b manager.Browser) error) error
}

// Render returns a handler for POST /api/v1/render.
//
// Orchestration flow:
//  1. Parse & validate request, apply defaults.
//  2. Cache lookup when max_age is set.
//  3. Lease a browser and render          (records acquire_ms, render_ms)
//  4. Cleaner.Process → html/markdown/text + metadata.
//  5. Fill timing, store in cache, return 200.
func Render(bp BrowserPool, cl *cleaner.Cleaner, cc *cache.Cache, rm *metrics.RenderMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		totalStart := time.Now()

		// ── 1. Parse request ────────────────────────────────────────
		var req models.RenderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			rm.Observe(models.ErrCodeInvalidInput, 0, 0)
			c.JSON(http.StatusBadRequest, models.RenderResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}
		req.Defaults()

		// ── 2. Cache lookup ─────────────────────────────────────────
		cacheKey := cache.Key(req.URL, req.OutputFormat, req.CSSSelector, req.Stealth)
		if cc != nil && req.MaxAge > 0 {
			if cached, hit := cc.Get(cacheKey, req.MaxAge); hit {
				resp := *cached
				resp.CacheStatus = "hit"
				resp.Timing = models.TimingInfo{TotalMs: time.Since(totalStart).Milliseconds()}
				rm.Observe("ok", 0, 0)
				c.JSON(http.StatusOK, resp)
				return
			}
		}

		// ── 3. Lease a browser and render ───────────────────────────
		// The request timeout covers the wait for a browser as well.
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Duration(req.Timeout)*time.Second)
		defer cancel()

		var (
			acquired  time.Time
			renderDur time.Duration
			browserID string
			html      string
			title     string
			status    int
			finalURL  string
		)
		err := bp.WithBrowser(ctx, func(ctx context.Context, b manager.Browser) error {
			acquired = time.Now()
			browserID = b.ID()
			res, err := b.Render(ctx, &req)
			renderDur = time.Since(acquired)
			if err != nil {
				return err
			}
			html, title, status, finalURL = res.HTML, res.Title, res.StatusCode, res.FinalURL
			return nil
		})

		var acquireDur time.Duration
		if !acquired.IsZero() {
			acquireDur = acquired.Sub(totalStart)
		}
		timing := models.TimingInfo{
			TotalMs:   time.Since(totalStart).Milliseconds(),
			AcquireMs: acquireDur.Milliseconds(),
			RenderMs:  renderDur.Milliseconds(),
		}
		if err != nil {
			rm.Observe(models.CodeOf(err), acquireDur, renderDur)
			respondError(c, err, timing)
			return
		}

		// ── 4. Post-process ─────────────────────────────────────────
		content, meta, err := cl.Process(html, finalURL, req.OutputFormat, req.CSSSelector)
		if err != nil {
			rm.Observe(models.CodeOf(err), acquireDur, renderDur)
			respondError(c, err, timing)
			return
		}
		if meta.Title == "" {
			meta.Title = title
		}
		meta.SourceURL = req.URL

		// ── 5. Respond ──────────────────────────────────────────────
		resp := models.RenderResponse{
			Success:    true,
			StatusCode: status,
			FinalURL:   finalURL,
			Content:    content,
			Metadata:   meta,
			BrowserID:  browserID,
		}
		resp.Timing = timing
		resp.Timing.TotalMs = time.Since(totalStart).Milliseconds()

		if cc != nil && req.MaxAge > 0 {
			stored := resp
			cc.Set(cacheKey, &stored)
			resp.CacheStatus = "miss"
		}

		rm.Observe("ok", acquireDur, renderDur)
		c.JSON(http.StatusOK, resp)
	}
}

// respondError maps a PoolError to the correct HTTP status code and writes
// a structured JSON error response.
func respondError(c *gin.Context, err error, timing models.TimingInfo) {
	var poolErr *models.PoolError
	if !errors.As(err, &poolErr) {
		poolErr = models.NewPoolError(models.ErrCodeInternal, err.Error(), err)
	}

	c.JSON(mapErrorToStatus(poolErr), models.RenderResponse{
		Success: false,
		Error:   poolErr.ToDetail(),
		Timing:  timing,
	})
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.PoolError) int {
	switch e.Code {
	case models.ErrCodeCircuitOpen, models.ErrCodePoolClosed, models.ErrCodeInitFailed:
		return http.StatusServiceUnavailable // 503
	case models.ErrCodeAcquireTimeout, models.ErrCodeRenderTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeNavigation:
		return http.StatusBadGateway // 502
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeRateLimited, models.ErrCodePoolExhausted:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	default:
		return http.StatusInternalServerError // 500
	}
}
