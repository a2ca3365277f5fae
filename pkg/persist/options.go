package persist

import (
	"log/slog"
	"time"

	"github.com/vango-dev/fluxio/pkg/flux"
	"github.com/vango-dev/fluxio/pkg/storage"
)

// DefaultThrottle is the write-back throttle of a Registry.
const DefaultThrottle = 100 * time.Millisecond

const defaultTracerName = "fluxio/persist"

// Option configures a Registry.
type Option func(*registryConfig)

type registryConfig struct {
	codec      storage.Codec
	throttle   time.Duration
	logger     *slog.Logger
	observer   Observer
	tracerName string
	nodeOpts   []flux.Option
}

// WithCodec sets the codec turning values into stored bytes.
// Default: storage.JSONCodec.
func WithCodec(c storage.Codec) Option {
	return func(cfg *registryConfig) {
		cfg.codec = c
	}
}

// WithThrottle sets the minimum interval between two writes of a key.
// Default: DefaultThrottle.
func WithThrottle(d time.Duration) Option {
	return func(cfg *registryConfig) {
		cfg.throttle = d
	}
}

// WithLogger sets the logger of the registry and of its nodes.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *registryConfig) {
		cfg.logger = logger
	}
}

// WithObserver installs an Observer receiving load and save events.
func WithObserver(o Observer) Option {
	return func(cfg *registryConfig) {
		cfg.observer = o
	}
}

// WithTracerName sets the OpenTelemetry tracer name used for load and save
// spans. Default: "fluxio/persist".
func WithTracerName(name string) Option {
	return func(cfg *registryConfig) {
		cfg.tracerName = name
	}
}

// WithNodeOptions adds options to every node the registry creates, e.g.
// flux.WithClock or flux.WithObserver.
func WithNodeOptions(opts ...flux.Option) Option {
	return func(cfg *registryConfig) {
		cfg.nodeOpts = append(cfg.nodeOpts, opts...)
	}
}

func defaultRegistryConfig() registryConfig {
	return registryConfig{
		codec:      storage.JSONCodec{},
		throttle:   DefaultThrottle,
		observer:   nopObserver{},
		tracerName: defaultTracerName,
	}
}
