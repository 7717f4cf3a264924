package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/browserpool/models"
)

// Version is reported by the health endpoints.
const Version = "0.1.0"

// Health returns a handler for GET /api/v1/health.
//
// The verdict is binary: 200 "healthy" while the circuit is closed and the
// pool counts are consistent, 503 "unhealthy" otherwise, and 503 "error"
// when stats cannot be read at all.
func Health(bp BrowserPool, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := models.HealthResponse{
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   Version,
		}

		stats, err := bp.Stats(c.Request.Context())
		if err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}

		resp.PoolStats = &stats
		if !stats.Healthy() {
			resp.Status = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		resp.Status = "healthy"
		c.JSON(http.StatusOK, resp)
	}
}

// BrowserResources returns a handler for GET /api/v1/health/browser-resources,
// reporting pool occupancy, circuit state and current and averaged metrics.
func BrowserResources(bp BrowserPool) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := bp.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": models.ErrorDetail{Code: models.CodeOf(err), Message: err.Error()},
			})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}
