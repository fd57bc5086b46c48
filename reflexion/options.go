package reflexion

import (
	"github.com/m-mizutani/tribunal/eventbus"
	"github.com/m-mizutani/tribunal/trace"
)

// Option configures a Controller.
type Option func(*Controller)

// WithMaxRetries sets the retries allowed per step before the controller
// replans. Default is 3.
func WithMaxRetries(n int) Option {
	return func(c *Controller) {
		c.maxRetries = max(n, 0)
	}
}

// WithMaxReplans sets the replans allowed per episode before the controller
// escalates. Default is 2.
func WithMaxReplans(n int) Option {
	return func(c *Controller) {
		c.maxReplans = max(n, 0)
	}
}

// WithTrace sets a trace handler for episodes.
func WithTrace(h trace.Handler) Option {
	return func(c *Controller) {
		c.trace = h
	}
}

// WithEventBus publishes lifecycle events of every episode to bus.
func WithEventBus(bus *eventbus.Bus) Option {
	return func(c *Controller) {
		c.bus = bus
	}
}
