package executor

import (
	"sync"
	"time"

	"github.com/ZanzyTHEbar/lintscale"
)

// ExecutorMetrics tracks statistics about one plan execution.
type ExecutorMetrics struct {
	stats lintscale.RunStats
	start time.Time
	end   time.Time

	mu sync.Mutex // Protects metrics updates
}

func (m *ExecutorMetrics) reset(planned int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = lintscale.RunStats{Planned: planned}
	m.start = time.Now()
	m.end = time.Time{}
}

func (m *ExecutorMetrics) finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.end = time.Now()
}

func (m *ExecutorMetrics) record(o lintscale.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.Attempts > 1 {
		m.stats.Retries += o.Attempts - 1
	}
	switch o.Status {
	case lintscale.StatusSkipped:
		m.stats.Skipped++
		return
	case lintscale.StatusCancelled:
		m.stats.Cancelled++
	case lintscale.StatusFailed, lintscale.StatusLaunchFailed:
		m.stats.Failed++
	}
	m.stats.Completed++
	if o.CacheHit {
		m.stats.CacheHits++
	} else {
		m.stats.Executed++
	}
}

// Copy returns a snapshot of the counters.
func (m *ExecutorMetrics) Copy() lintscale.RunStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	switch {
	case m.start.IsZero():
	case m.end.IsZero():
		s.Duration = time.Since(m.start)
	default:
		s.Duration = m.end.Sub(m.start)
	}
	return s
}
