// Package monitor records point-in-time resource and process metrics and
// computes rolling averages over a time window.
package monitor

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// HistorySize is the number of snapshots retained; older ones are dropped first.
const HistorySize = 1000

// DefaultWindow is the averaging window used by callers that do not pick one.
const DefaultWindow = 5 * time.Minute

// Liveness is implemented by resources that can report whether their
// underlying handle is live. Resources without it count as active.
type Liveness interface {
	IsActive() bool
}

// PageCounter is implemented by resources that hold sub-units such as
// open browser tabs.
type PageCounter interface {
	ActivePages() int
}

// Metrics is an immutable snapshot.
type Metrics struct {
	ActiveResources int       `json:"active_resources"`
	TotalResources  int       `json:"total_resources"`
	MemoryUsageMB   float64   `json:"memory_usage_mb"`
	CPUPercent      float64   `json:"cpu_percent"`
	ActivePages     int       `json:"active_pages"`
	Timestamp       time.Time `json:"timestamp"`
}

// Sampler reports process resource usage.
type Sampler interface {
	Usage() (memoryMB, cpuPercent float64, err error)
}

// Monitor is safe for concurrent use.
type Monitor struct {
	sampler Sampler
	now     func() time.Time

	mu        sync.Mutex
	resources []any
	history   []Metrics // ring buffer of HistorySize
	start     int
	count     int
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSampler replaces the /proc based process sampler.
func WithSampler(s Sampler) Option {
	return func(m *Monitor) { m.sampler = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a Monitor sampling the current process.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		now:     time.Now,
		history: make([]Metrics, HistorySize),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sampler == nil {
		m.sampler = NewProcSampler()
	}
	return m
}

// Register adds r to the monitored set. r must be comparable.
func (m *Monitor) Register(r any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources = append(m.resources, r)
}

// Unregister removes r; unknown resources are ignored.
func (m *Monitor) Unregister(r any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.resources {
		if existing == r {
			m.resources = append(m.resources[:i], m.resources[i+1:]...)
			return
		}
	}
}

// Registered returns the number of monitored resources.
func (m *Monitor) Registered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resources)
}

// Current takes a snapshot and appends it to the history.
func (m *Monitor) Current() Metrics {
	memMB, cpu, err := m.sampler.Usage()
	if err != nil {
		slog.Debug("monitor: process sample unavailable", "error", err)
	}

	// Resources may take their own locks, so they are queried on a copy.
	m.mu.Lock()
	resources := append([]any(nil), m.resources...)
	m.mu.Unlock()

	snap := Metrics{
		TotalResources: len(resources),
		MemoryUsageMB:  memMB,
		CPUPercent:     cpu,
	}
	for _, r := range resources {
		if l, ok := r.(Liveness); !ok || l.IsActive() {
			snap.ActiveResources++
		}
		if pc, ok := r.(PageCounter); ok {
			snap.ActivePages += pc.ActivePages()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	snap.Timestamp = m.now()
	m.appendLocked(snap)
	return snap
}

// Average returns the mean of the snapshots taken within window. With no
// snapshot in the window it falls back to Current.
func (m *Monitor) Average(window time.Duration) Metrics {
	m.mu.Lock()
	now := m.now()
	cutoff := now.Add(-window)

	var n int
	var active, pages int
	var memMB, cpu float64
	for i := 0; i < m.count; i++ {
		s := m.history[(m.start+i)%HistorySize]
		if !s.Timestamp.After(cutoff) {
			continue
		}
		n++
		active += s.ActiveResources
		pages += s.ActivePages
		memMB += s.MemoryUsageMB
		cpu += s.CPUPercent
	}
	total := len(m.resources)
	m.mu.Unlock()

	if n == 0 {
		return m.Current()
	}

	div := float64(n)
	return Metrics{
		ActiveResources: int(math.Round(float64(active) / div)),
		TotalResources:  total,
		MemoryUsageMB:   round2(memMB / div),
		CPUPercent:      round2(cpu / div),
		ActivePages:     int(math.Round(float64(pages) / div)),
		Timestamp:       now,
	}
}

// History returns the retained snapshots, oldest first.
func (m *Monitor) History() []Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Metrics, m.count)
	for i := 0; i < m.count; i++ {
		out[i] = m.history[(m.start+i)%HistorySize]
	}
	return out
}

// appendLocked pushes s, overwriting the oldest entry when full.
// Caller must hold m.mu.
func (m *Monitor) appendLocked(s Metrics) {
	if m.count < HistorySize {
		m.history[(m.start+m.count)%HistorySize] = s
		m.count++
		return
	}
	m.history[m.start] = s
	m.start = (m.start + 1) % HistorySize
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
