package observability

import (
	"strconv"
	"sync"

	"github.com/ZanzyTHEbar/lintscale"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver exports per-action outcomes as Prometheus metrics.
type PrometheusObserver struct {
	registerOnce sync.Once
	registerer   prometheus.Registerer

	outcomes  *prometheus.CounterVec
	durations *prometheus.HistogramVec
	phases    *prometheus.CounterVec
	hitRatio  prometheus.Gauge
}

// NewPrometheusObserver creates the collectors. A nil registerer means the default registry.
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusObserver{
		registerer: reg,
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lintscale",
				Subsystem: "action",
				Name:      "outcomes_total",
				Help:      "Action outcomes by tool, phase, status and cache hit.",
			},
			[]string{"tool", "phase", "status", "cache_hit"},
		),
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "lintscale",
				Subsystem: "action",
				Name:      "duration_seconds",
				Help:      "Action wall time in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool", "phase"},
		),
		phases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lintscale",
				Subsystem: "phase",
				Name:      "runs_total",
				Help:      "Phases started.",
			},
			[]string{"phase"},
		),
		hitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lintscale",
			Subsystem: "cache",
			Name:      "hit_ratio",
			Help:      "Cache hit ratio of the current run.",
		}),
	}
}

// Register adds the collectors to the registerer. Safe to call more than once.
func (p *PrometheusObserver) Register() error {
	var err error
	p.registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{p.outcomes, p.durations, p.phases, p.hitRatio} {
			if err = p.registerer.Register(c); err != nil {
				return
			}
		}
	})
	return err
}

func (p *PrometheusObserver) OnPhaseStart(phase lintscale.Phase, entries int) {
	p.phases.WithLabelValues(string(phase)).Inc()
}

func (p *PrometheusObserver) OnOutcome(o lintscale.Outcome, stats lintscale.RunStats) {
	p.outcomes.WithLabelValues(o.ToolID, string(o.Phase), string(o.Status), strconv.FormatBool(o.CacheHit)).Inc()
	if o.Dispatched() && !o.CacheHit {
		p.durations.WithLabelValues(o.ToolID, string(o.Phase)).Observe(o.Duration.Seconds())
	}
	p.hitRatio.Set(stats.CacheHitRatio())
}

func (p *PrometheusObserver) OnPhaseEnd(phase lintscale.Phase, stats lintscale.RunStats) {}

var _ lintscale.Observer = (*PrometheusObserver)(nil)
