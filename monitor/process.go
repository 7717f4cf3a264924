package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/procfs"
)

// ProcSampler reads RSS and CPU time of the current process from /proc.
// CPU percent is measured between consecutive calls, so the first call
// reports 0.
type ProcSampler struct {
	mu      sync.Mutex
	lastCPU float64
	lastAt  time.Time
}

// NewProcSampler creates a ProcSampler.
func NewProcSampler() *ProcSampler {
	return &ProcSampler{}
}

// Usage implements Sampler.
func (s *ProcSampler) Usage() (float64, float64, error) {
	p, err := procfs.Self()
	if err != nil {
		return 0, 0, fmt.Errorf("monitor: open /proc/self: %w", err)
	}
	stat, err := p.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("monitor: read process stat: %w", err)
	}

	memMB := float64(stat.ResidentMemory()) / 1024 / 1024
	cpuSeconds := stat.CPUTime()
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var cpuPercent float64
	if !s.lastAt.IsZero() {
		if wall := now.Sub(s.lastAt).Seconds(); wall > 0 {
			cpuPercent = (cpuSeconds - s.lastCPU) / wall * 100
		}
	}
	s.lastCPU = cpuSeconds
	s.lastAt = now

	return round2(memMB), round2(cpuPercent), nil
}
