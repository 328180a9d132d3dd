package monitoring

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemStats is the latest process sample, served by /health.
type SystemStats struct {
	CPUPercent float64
	MemoryMB   float64
	Goroutines int
}

// Sampler periodically reads process CPU and RSS via gopsutil and publishes
// them to the Prometheus gauges and a snapshot for the health endpoint.
type Sampler struct {
	proc     *process.Process
	interval time.Duration
	logger   zerolog.Logger

	mu    sync.RWMutex
	stats SystemStats
}

func NewSampler(interval time.Duration, logger zerolog.Logger) *Sampler {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		// Extremely unlikely (own PID); sampling just degrades to goroutines only.
		logger.Warn().Err(err).Msg("Process handle unavailable, CPU/memory sampling disabled")
	}
	return &Sampler{
		proc:     proc,
		interval: interval,
		logger:   logger.With().Str("component", "system_sampler").Logger(),
	}
}

// Run blocks until ctx is done, sampling every interval.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	var st SystemStats
	st.Goroutines = runtime.NumGoroutine()

	if s.proc != nil {
		if cpu, err := s.proc.CPUPercent(); err == nil {
			st.CPUPercent = cpu
		}
		if mem, err := s.proc.MemoryInfo(); err == nil && mem != nil {
			st.MemoryMB = float64(mem.RSS) / 1024.0 / 1024.0
		}
	}

	CPUPercent.Set(st.CPUPercent)
	MemoryMB.Set(st.MemoryMB)
	Goroutines.Set(float64(st.Goroutines))

	s.mu.Lock()
	s.stats = st
	s.mu.Unlock()
}

// Stats returns the latest sample.
func (s *Sampler) Stats() SystemStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}
