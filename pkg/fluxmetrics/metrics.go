// Package fluxmetrics exports node and persistence activity as Prometheus
// metrics.
//
// A Collector implements both flux.Observer and persist.Observer:
//
//	reg := prometheus.NewRegistry()
//	m := fluxmetrics.New(fluxmetrics.WithRegistry(reg))
//	count := flux.New(0, flux.WithName("count"), flux.WithObserver(m))
//	stored := persist.NewRegistry(store, persist.WithObserver(m),
//	    persist.WithNodeOptions(flux.WithObserver(m)))
package fluxmetrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vango-dev/fluxio/pkg/flux"
	"github.com/vango-dev/fluxio/pkg/persist"
	"github.com/vango-dev/fluxio/pkg/storage"
)

// Config configures the collector.
type Config struct {
	// Namespace is the metrics namespace (default: "fluxio").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for durations.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "fluxio",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Collector records flux and persist events. Node names are used as the
// "node" label and stored keys as the "key" label, so both should come from
// a bounded set.
type Collector struct {
	setsTotal      *prometheus.CounterVec
	notifyDuration *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	panicsTotal    *prometheus.CounterVec
	connected      *prometheus.GaugeVec

	loadsTotal    *prometheus.CounterVec
	loadDuration  prometheus.Histogram
	savesTotal    *prometheus.CounterVec
	savedBytes    prometheus.Counter
	saveDuration  prometheus.Histogram
	failuresTotal *prometheus.CounterVec
}

var (
	_ flux.Observer    = (*Collector)(nil)
	_ persist.Observer = (*Collector)(nil)
)

// New creates a collector and registers its metrics.
// It panics if the metrics are already registered, like promauto does.
func New(opts ...Option) *Collector {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}
	histogram := func(name, help string) prometheus.Histogram {
		return factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		})
	}

	return &Collector{
		setsTotal: counter("node_sets_total",
			"Values stored in nodes (equal values are not counted)", "node"),
		notifyDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "node_notify_duration_seconds",
			Help:        "Duration of node notify cycles in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"node"}),
		errorsTotal: counter("node_errors_total",
			"Errors put on node error channels", "node"),
		panicsTotal: counter("listener_panics_total",
			"Recovered listener panics", "node"),
		connected: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "pipes_connected",
			Help:        "Derived nodes with an open upstream connection",
			ConstLabels: config.ConstLabels,
		}, []string{"node"}),

		loadsTotal: counter("persist_loads_total",
			"Initial loads of stored keys", "found"),
		loadDuration: histogram("persist_load_duration_seconds",
			"Duration of initial loads in seconds"),
		savesTotal: counter("persist_saves_total",
			"Values written to the store", "key"),
		savedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "persist_saved_bytes_total",
			Help:        "Bytes written to the store",
			ConstLabels: config.ConstLabels,
		}),
		saveDuration: histogram("persist_save_duration_seconds",
			"Duration of store writes in seconds"),
		failuresTotal: counter("persist_failures_total",
			"Failed persistence operations", "op", "reason"),
	}
}

func label(name string) string {
	if name == "" {
		return "_"
	}
	return name
}

// ValueSet implements flux.Observer.
func (c *Collector) ValueSet(node string) {
	c.setsTotal.WithLabelValues(label(node)).Inc()
}

// Notified implements flux.Observer.
func (c *Collector) Notified(node string, _ int, elapsed time.Duration) {
	c.notifyDuration.WithLabelValues(label(node)).Observe(elapsed.Seconds())
}

// ErrorSet implements flux.Observer.
func (c *Collector) ErrorSet(node string, _ error) {
	c.errorsTotal.WithLabelValues(label(node)).Inc()
}

// Connected implements flux.Observer.
func (c *Collector) Connected(node string) {
	c.connected.WithLabelValues(label(node)).Inc()
}

// Disconnected implements flux.Observer.
func (c *Collector) Disconnected(node string) {
	c.connected.WithLabelValues(label(node)).Dec()
}

// ListenerPanicked implements flux.Observer.
func (c *Collector) ListenerPanicked(node string, _ any) {
	c.panicsTotal.WithLabelValues(label(node)).Inc()
}

// Loaded implements persist.Observer.
func (c *Collector) Loaded(_ string, found bool, elapsed time.Duration) {
	f := "false"
	if found {
		f = "true"
	}
	c.loadsTotal.WithLabelValues(f).Inc()
	c.loadDuration.Observe(elapsed.Seconds())
}

// Saved implements persist.Observer.
func (c *Collector) Saved(key string, size int, elapsed time.Duration) {
	c.savesTotal.WithLabelValues(label(key)).Inc()
	c.savedBytes.Add(float64(size))
	c.saveDuration.Observe(elapsed.Seconds())
}

// Failed implements persist.Observer.
func (c *Collector) Failed(_ string, op string, err error) {
	c.failuresTotal.WithLabelValues(op, reason(err)).Inc()
}

// reason classifies err into a small label set.
func reason(err error) string {
	switch {
	case errors.Is(err, persist.ErrInvalid):
		return "invalid"
	case errors.Is(err, storage.ErrClosed):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
