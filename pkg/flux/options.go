package flux

import (
	"log/slog"
)

// Option configures a node. Derived nodes inherit the options of their
// upstream node unless overridden.
type Option func(*config)

type config struct {
	name     string
	logger   *slog.Logger
	clock    Clock
	observer Observer
}

// WithName sets the name used in logs, metrics and registries.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithClock sets the clock used by the timing combinators.
func WithClock(clock Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}

// WithObserver installs an Observer receiving lifecycle events.
func WithObserver(o Observer) Option {
	return func(c *config) {
		c.observer = o
	}
}

func newConfig(parent *config, suffix string, opts []Option) config {
	var c config
	if parent != nil {
		c = *parent
		if c.name != "" && suffix != "" {
			c.name = c.name + "." + suffix
		}
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.logger == nil {
		c.logger = slog.Default().With("component", "flux")
	}
	if c.clock == nil {
		c.clock = SystemClock()
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	return c
}
