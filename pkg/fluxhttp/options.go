package fluxhttp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Defaults for Server options.
const (
	DefaultMaxBody      = 1 << 20
	DefaultPingInterval = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultWatchBuffer  = 16
)

type config struct {
	logger       *slog.Logger
	gatherer     prometheus.Gatherer
	checkOrigin  func(*http.Request) bool
	maxBody      int64
	pingInterval time.Duration
	writeTimeout time.Duration
	watchBuffer  int
	readOnly     bool
	secret       []byte
	missTTL      time.Duration
}

func defaultConfig() config {
	return config{
		gatherer:     prometheus.DefaultGatherer,
		maxBody:      DefaultMaxBody,
		pingInterval: DefaultPingInterval,
		writeTimeout: DefaultWriteTimeout,
		watchBuffer:  DefaultWatchBuffer,
	}
}

// Option configures a Server.
type Option func(*config)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithGatherer sets the registry served on /metrics. A nil gatherer removes
// the route.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(c *config) {
		c.gatherer = g
	}
}

// WithCheckOrigin sets the origin check for watch streams. The default
// rejects cross-origin upgrades.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(c *config) {
		c.checkOrigin = fn
	}
}

// WithMaxBody limits request bodies and incoming watch messages.
func WithMaxBody(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithPingInterval sets how often watch streams are pinged. A client that
// stays silent for two intervals is disconnected.
func WithPingInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

// WithWriteTimeout bounds each write to a watch stream.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// WithWatchBuffer sets how many frames a watch stream queues before it
// starts dropping the oldest ones.
func WithWatchBuffer(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.watchBuffer = n
		}
	}
}

// WithReadOnly rejects PUT and DELETE requests and ignores values sent on
// watch streams.
func WithReadOnly(readOnly bool) Option {
	return func(c *config) {
		c.readOnly = readOnly
	}
}

// WithTokenSecret requires writes to carry an HS256 bearer token signed with
// secret, as minted by NewToken. Watch streams without one stay read-only.
func WithTokenSecret(secret []byte) Option {
	return func(c *config) {
		c.secret = secret
	}
}

// WithMissCache remembers for ttl that the store does not hold a key, so
// repeated reads of unknown keys skip the store. Writes through the server
// clear the entry; values written to the store by other processes become
// visible once it expires. Zero disables the cache, which is the default.
func WithMissCache(ttl time.Duration) Option {
	return func(c *config) {
		c.missTTL = ttl
	}
}
