package lintscale

import "github.com/ZanzyTHEbar/lintscale/internal/eventbus"

// WithEventBus publishes run events on bus. The caller keeps ownership of bus.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(e *Engine) {
		e.eventBus = bus
	}
}
