package observability

import (
	"github.com/ZanzyTHEbar/lintscale"
	"github.com/rs/zerolog"
)

// LogObserver writes run progress to a zerolog logger.
type LogObserver struct {
	logger zerolog.Logger
}

func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (l *LogObserver) OnPhaseStart(phase lintscale.Phase, entries int) {
	l.logger.Info().Str("phase", string(phase)).Int("entries", entries).Msg("phase started")
}

func (l *LogObserver) OnOutcome(o lintscale.Outcome, stats lintscale.RunStats) {
	ev := l.logger.Debug()
	switch o.Status {
	case lintscale.StatusLaunchFailed, lintscale.StatusFailed:
		ev = l.logger.Warn().Str("error", o.Error)
	}
	ev.Str("tool", o.ToolID).
		Str("action", o.ActionID).
		Str("status", string(o.Status)).
		Int("exit_code", o.ExitCode).
		Bool("cache_hit", o.CacheHit).
		Dur("duration", o.Duration).
		Int("completed", stats.Completed).
		Int("planned", stats.Planned).
		Msg("action finished")
}

func (l *LogObserver) OnPhaseEnd(phase lintscale.Phase, stats lintscale.RunStats) {
	l.logger.Info().
		Str("phase", string(phase)).
		Int("completed", stats.Completed).
		Int("failed", stats.Failed).
		Float64("cache_hit_ratio", stats.CacheHitRatio()).
		Msg("phase finished")
}

var _ lintscale.Observer = (*LogObserver)(nil)
