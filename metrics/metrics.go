// Package metrics exposes pool state and render traffic to Prometheus.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/use-agent/browserpool/breaker"
	"github.com/use-agent/browserpool/models"
)

const namespace = "browserpool"

// StatsSource is anything that can report pool stats, typically the manager.
type StatsSource interface {
	Stats(ctx context.Context) (models.PoolStats, error)
}

// Collector reads pool stats on every scrape. Reading stats of an
// uninitialized pool initializes it.
type Collector struct {
	source  StatsSource
	timeout time.Duration

	up          *prometheus.Desc
	available   *prometheus.Desc
	acquired    *prometheus.Desc
	total       *prometheus.Desc
	maxSize     *prometheus.Desc
	circuit     *prometheus.Desc
	failures    *prometheus.Desc
	memoryMB    *prometheus.Desc
	cpuPercent  *prometheus.Desc
	activePages *prometheus.Desc
}

var circuitStates = []breaker.State{breaker.StateClosed, breaker.StateOpen, breaker.StateHalfOpen}

// NewCollector creates a collector over source.
func NewCollector(source StatsSource) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		source:      source,
		timeout:     5 * time.Second,
		up:          desc("stats_up", "Whether the last stats read succeeded."),
		available:   desc("available_browsers", "Browsers waiting in the pool."),
		acquired:    desc("acquired_browsers", "Browsers currently leased."),
		total:       desc("total_browsers", "Browsers owned by the pool."),
		maxSize:     desc("max_size", "Configured pool capacity."),
		circuit:     desc("circuit_state", "Circuit breaker state; 1 for the current state.", "state"),
		failures:    desc("circuit_failures", "Failures counted by the circuit breaker since it last closed."),
		memoryMB:    desc("memory_mb", "Resident memory of the pool process in MB."),
		cpuPercent:  desc("cpu_percent", "CPU usage of the pool process in percent."),
		activePages: desc("active_pages", "Tabs currently rendering across all browsers."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.up, c.available, c.acquired, c.total, c.maxSize,
		c.circuit, c.failures, c.memoryMB, c.cpuPercent, c.activePages,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	stats, err := c.source.Stats(ctx)
	if err != nil {
		slog.Warn("metrics: failed to read pool stats", "error", err)
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	gauge(c.up, 1)
	gauge(c.available, float64(stats.AvailableCount))
	gauge(c.acquired, float64(stats.AcquiredCount))
	gauge(c.total, float64(stats.TotalCount))
	gauge(c.maxSize, float64(stats.MaxSize))
	for _, s := range circuitStates {
		v := 0.0
		if s == stats.CircuitBreaker.State {
			v = 1
		}
		gauge(c.circuit, v, s.String())
	}
	gauge(c.failures, float64(stats.CircuitBreaker.FailureCount))
	gauge(c.memoryMB, stats.MonitorMetrics.MemoryUsageMB)
	gauge(c.cpuPercent, stats.MonitorMetrics.CPUPercent)
	gauge(c.activePages, float64(stats.MonitorMetrics.ActivePages))
}

// RenderMetrics instruments the render endpoint.
type RenderMetrics struct {
	Requests       *prometheus.CounterVec
	AcquireSeconds prometheus.Histogram
	RenderSeconds  prometheus.Histogram
}

// NewRenderMetrics registers render metrics with reg.
func NewRenderMetrics(reg prometheus.Registerer) *RenderMetrics {
	f := promauto.With(reg)
	return &RenderMetrics{
		Requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "render_requests_total",
				Help:      "Render requests by outcome code.",
			},
			[]string{"code"},
		),
		AcquireSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "acquire_wait_seconds",
			Help:      "Time spent waiting for a free browser.",
			Buckets:   []float64{.001, .01, .05, .1, .5, 1, 5, 15, 30, 60},
		}),
		RenderSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time spent rendering a page with a leased browser.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
}

// Observe records one finished render. code is "ok" or a PoolError code.
func (m *RenderMetrics) Observe(code string, acquire, render time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(code).Inc()
	if acquire > 0 {
		m.AcquireSeconds.Observe(acquire.Seconds())
	}
	if render > 0 {
		m.RenderSeconds.Observe(render.Seconds())
	}
}
