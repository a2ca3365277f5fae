// Package fluxhttp exposes the nodes of a persist.Registry over HTTP.
//
// Routes:
//
//	GET    /nodes              list opened and stored keys
//	GET    /nodes/{key}        read a node as a Frame
//	PUT    /nodes/{key}        set a node from a JSON body
//	DELETE /nodes/{key}        detach a node and delete its stored value
//	GET    /nodes/{key}/watch  WebSocket stream of Frames
//	GET    /metrics            Prometheus metrics
//	GET    /healthz            store probe
//
// Keys that are not open yet are opened from the store as untyped nodes.
// With WithTokenSecret, PUT and DELETE need an "Authorization: Bearer"
// header holding a token from NewToken.
package fluxhttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/jellydator/ttlcache/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/fluxio/pkg/flux"
	"github.com/vango-dev/fluxio/pkg/persist"
	"github.com/vango-dev/fluxio/pkg/storage"
)

// ErrNotFound is returned when neither the registry nor the store know a key.
var ErrNotFound = errors.New("fluxhttp: key not found")

// Frame is the JSON form of a node: a single read, or one message of a
// watch stream. Value is omitted on error frames.
type Frame struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Server serves the nodes of a registry.
type Server struct {
	reg      *persist.Registry
	cfg      config
	logger   *slog.Logger
	router   chi.Router
	upgrader websocket.Upgrader
	misses   *ttlcache.Cache[string, struct{}]

	mu       sync.Mutex
	watchers map[*watcher]struct{}
	closed   bool
}

// New creates a server for reg.
func New(reg *persist.Registry, opts ...Option) *Server {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default().With("component", "fluxhttp")
	}

	s := &Server{
		reg:    reg,
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.checkOrigin,
		},
		watchers: make(map[*watcher]struct{}),
	}
	if cfg.missTTL > 0 {
		s.misses = ttlcache.New(
			ttlcache.WithTTL[string, struct{}](cfg.missTTL),
			ttlcache.WithCapacity[string, struct{}](4096),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	if s.cfg.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.cfg.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/nodes", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Get("/{key}", s.handleGet)
		r.With(s.requireWriter).Put("/{key}", s.handlePut)
		r.With(s.requireWriter).Delete("/{key}", s.handleDelete)
		r.Get("/{key}/watch", s.handleWatch)
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close disconnects every watch stream. http.Server.Shutdown does not touch
// upgraded connections, so call both.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	watchers := make([]*watcher, 0, len(s.watchers))
	for w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.mu.Unlock()

	for _, w := range watchers {
		w.stop()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := storage.Probe(ctx, s.reg.Store()); err != nil {
		s.logger.Warn("health probe failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	stored, err := s.reg.Store().Keys(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	seen := make(map[string]bool, len(stored))
	keys := make([]string, 0, len(stored))
	for _, k := range append(s.reg.Keys(), stored...) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	writeJSON(w, http.StatusOK, map[string][]string{"keys": keys})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	n, err := s.open(r.Context(), key, false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodeFrame(key, n))
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.maxBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
		return
	}
	if !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body is not valid JSON"})
		return
	}

	n, err := s.open(r.Context(), key, true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := n.SetJSON(body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Info("node set", "key", key)
	writeJSON(w, http.StatusOK, nodeFrame(key, n))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.reg.Delete(r.Context(), key); err != nil {
		s.writeError(w, err)
		return
	}
	s.remember(key)
	s.logger.Info("node deleted", "key", key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	n, err := s.open(r.Context(), key, true)
	if err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		s.logger.Warn("websocket upgrade failed", "key", key, "error", err)
		return
	}

	wt := newWatcher(s, conn, key, n, s.writeDenial(r))
	if !s.track(wt) {
		wt.stop()
		return
	}
	defer s.untrack(wt)
	wt.run()
}

func (s *Server) track(w *watcher) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.watchers[w] = struct{}{}
	return true
}

func (s *Server) untrack(w *watcher) {
	s.mu.Lock()
	delete(s.watchers, w)
	s.mu.Unlock()
}

// open returns the node for key once its initial load finished. Unknown
// keys are opened from the store; when create is false a key the store does
// not hold either yields ErrNotFound.
func (s *Server) open(ctx context.Context, key string, create bool) (flux.AnyNode, error) {
	n, ok := s.reg.Nodes().Get(key)
	if !ok {
		if !create {
			if s.misses != nil && s.misses.Get(key) != nil {
				return nil, ErrNotFound
			}
			data, err := s.reg.Store().Load(ctx, key)
			if err != nil {
				return nil, err
			}
			if data == nil {
				s.remember(key)
				return nil, ErrNotFound
			}
		} else if s.misses != nil {
			s.misses.Delete(key)
		}
		created, err := persist.Stored[any](s.reg, key, nil, nil)
		switch {
		case errors.Is(err, flux.ErrTypeMismatch):
			// Opened with another type meanwhile.
			if n, ok = s.reg.Nodes().Get(key); !ok {
				return nil, err
			}
		case err != nil:
			return nil, err
		default:
			n = created
		}
	}

	if loaded := s.reg.Loaded(key); loaded != nil {
		select {
		case <-loaded:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return n, nil
}

// remember records that the store does not hold key.
func (s *Server) remember(key string) {
	if s.misses != nil {
		s.misses.Set(key, struct{}{}, ttlcache.DefaultTTL)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, storage.ErrEmptyKey):
		status = http.StatusBadRequest
	case errors.Is(err, flux.ErrTypeMismatch):
		status = http.StatusConflict
	case errors.Is(err, persist.ErrClosed), errors.Is(err, storage.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func nodeFrame(key string, n flux.AnyNode) Frame {
	f := valueFrame(key, n.GetAny())
	if err := n.Err(); err != nil && f.Error == "" {
		f.Error = err.Error()
	}
	return f
}

func valueFrame(key string, v any) Frame {
	data, err := json.Marshal(v)
	if err != nil {
		return Frame{Key: key, Error: err.Error()}
	}
	return Frame{Key: key, Value: data}
}

func errorFrame(key string, err error) Frame {
	return Frame{Key: key, Error: err.Error()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
