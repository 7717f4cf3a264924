package models

import (
	"github.com/use-agent/browserpool/breaker"
	"github.com/use-agent/browserpool/monitor"
)

// RenderResponse is the response for POST /api/v1/render.
type RenderResponse struct {
	// Success indicates whether the render completed without errors.
	Success bool `json:"success"`

	// StatusCode is the HTTP status code of the rendered page.
	StatusCode int `json:"status_code"`

	// FinalURL is the URL after following all redirects.
	FinalURL string `json:"final_url"`

	// Content is the rendered page in the requested format.
	Content string `json:"content"`

	// Metadata contains extracted page metadata.
	Metadata Metadata `json:"metadata"`

	// BrowserID identifies the pooled browser that served the request.
	BrowserID string `json:"browser_id,omitempty"`

	// Timing provides duration breakdowns for the operation.
	Timing TimingInfo `json:"timing"`

	// CacheStatus indicates whether the response was served from cache.
	// Values: "hit", "miss", or empty (caching not requested).
	CacheStatus string `json:"cache_status,omitempty"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// Metadata holds page-level information extracted from the rendered HTML.
type Metadata struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Language    string `json:"language,omitempty"`
	SourceURL   string `json:"source_url"`
}

// TimingInfo breaks down the time spent in each phase.
type TimingInfo struct {
	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"total_ms"`

	// AcquireMs is the time spent waiting for a free browser.
	AcquireMs int64 `json:"acquire_ms"`

	// RenderMs is the time spent navigating and rendering the page.
	RenderMs int64 `json:"render_ms"`
}

// PoolStats reports the state of the browser pool.
type PoolStats struct {
	AvailableCount int             `json:"available_count"`
	AcquiredCount  int             `json:"acquired_count"`
	TotalCount     int             `json:"total_count"`
	MaxSize        int             `json:"max_size"`
	CircuitBreaker breaker.Info    `json:"circuit_breaker"`
	MonitorMetrics monitor.Metrics `json:"monitor_metrics"`
	AverageMetrics monitor.Metrics `json:"average_metrics"`
}

// Healthy is the binary verdict used by health checks.
func (s PoolStats) Healthy() bool {
	return s.AvailableCount >= 0 &&
		s.AcquiredCount <= s.MaxSize &&
		s.CircuitBreaker.State == breaker.StateClosed
}

// HealthResponse is the response for the health endpoints.
type HealthResponse struct {
	Status    string     `json:"status"` // "healthy", "unhealthy" or "error"
	Uptime    string     `json:"uptime"`
	Timestamp string     `json:"timestamp"`
	PoolStats *PoolStats `json:"pool_stats,omitempty"`
	Error     string     `json:"error,omitempty"`
	Version   string     `json:"version"`
}
