package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/fluxio/pkg/flux"
	"github.com/vango-dev/fluxio/pkg/storage"
)

var (
	// ErrInvalid is matched by errors reporting a stored value that failed
	// validation.
	ErrInvalid = errors.New("persist: invalid stored value")

	// ErrClosed is returned by Stored after Close.
	ErrClosed = errors.New("persist: registry is closed")
)

// Registry owns the stored nodes of one store. Each key maps to exactly one
// node for the lifetime of the registry.
type Registry struct {
	store  storage.Store
	cfg    registryConfig
	logger *slog.Logger
	tracer trace.Tracer
	nodes  *flux.Registry

	// ctx bounds background loads and writes; Close cancels it.
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closing atomic.Bool

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// NewRegistry creates a registry persisting to store. The registry does not
// close store.
func NewRegistry(store storage.Store, opts ...Option) *Registry {
	cfg := defaultRegistryConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default().With("component", "persist")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		store:   store,
		cfg:     cfg,
		logger:  cfg.logger,
		tracer:  otel.Tracer(cfg.tracerName),
		nodes:   flux.NewRegistry(),
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}
}

// Stored returns the node persisted under key, creating it on the first call.
//
// A new node holds init until the stored value has loaded. The loaded value
// replaces init only if it decodes, passes validate (when non-nil) and
// nobody set the node in the meantime. From then on every value that
// survives the registry throttle is written back.
//
// Later calls return the same node. Asking for a key with another type
// yields a *flux.TypeMismatchError.
func Stored[T any](r *Registry, key string, init T, validate func(T) error) (*flux.Node[T], error) {
	if key == "" {
		return nil, storage.ErrEmptyKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	var created *flux.Node[T]
	n, err := flux.Lookup(r.nodes, key, func() *flux.Node[T] {
		opts := append([]flux.Option{flux.WithName(key), flux.WithLogger(r.logger)}, r.cfg.nodeOpts...)
		created = flux.New(init, opts...)
		return created
	})
	if err != nil || created == nil {
		return n, err
	}

	e := newEntry(key, func() ([]byte, error) {
		return r.cfg.codec.Marshal(n.Peek())
	})
	r.entries[key] = e

	var touched atomic.Bool
	untrack := n.On(func(T) { touched.Store(true) })

	r.wg.Add(1)
	go load(r, e, n, validate, &touched, untrack)
	return n, nil
}

// OpenAll opens every key of the store as an untyped node and returns the
// keys. Nodes already opened keep their type.
func OpenAll(ctx context.Context, r *Registry) ([]string, error) {
	keys, err := r.store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("persist: list keys: %w", err)
	}
	for _, key := range keys {
		if _, ok := r.nodes.Get(key); ok {
			continue
		}
		if _, err := Stored[any](r, key, nil, nil); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func load[T any](r *Registry, e *entry, n *flux.Node[T], validate func(T) error, touched *atomic.Bool, untrack flux.Unsubscribe) {
	defer r.wg.Done()
	defer close(e.loaded)

	ctx, span := r.tracer.Start(r.ctx, "persist.load",
		trace.WithAttributes(attribute.String("fluxio.key", e.key)))
	defer span.End()

	start := time.Now()
	data, err := r.store.Load(ctx, e.key)
	if err != nil {
		r.fail(span, e.key, "load", err)
		data = nil
	}
	found := data != nil
	value, ok := decode(r, span, e.key, data, validate)

	untrack()
	if touched.Load() {
		// Whatever the caller set wins over the stored value.
		e.setLast(data)
	} else {
		if ok {
			n.Set(value)
		}
		if current, err := e.encode(); err == nil {
			e.setLast(current)
		}
	}

	span.SetAttributes(attribute.Bool("fluxio.found", found))
	r.cfg.observer.Loaded(e.key, found, time.Since(start))
	r.logger.Debug("persist loaded", "key", e.key, "found", found, "applied", ok && !touched.Load())

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || e.isDeleted() {
		return
	}
	writes := n.Throttle(r.cfg.throttle)
	e.off = writes.On(func(v T) {
		data, err := r.cfg.codec.Marshal(v)
		if err != nil {
			r.report(e.key, "encode", err)
			return
		}
		r.enqueue(e, data)
	})
}

func decode[T any](r *Registry, span trace.Span, key string, data []byte, validate func(T) error) (T, bool) {
	var v T
	if data == nil {
		return v, false
	}
	if err := r.cfg.codec.Unmarshal(data, &v); err != nil {
		r.fail(span, key, "decode", fmt.Errorf("persist: decode %s: %w", key, err))
		return v, false
	}
	if validate != nil {
		if err := validate(v); err != nil {
			if !errors.Is(err, ErrInvalid) {
				err = fmt.Errorf("%w: %w", ErrInvalid, err)
			}
			r.fail(span, key, "validate", err)
			return v, false
		}
	}
	return v, true
}

// Loaded returns a channel closed once the initial load of key finished,
// or nil when key was never opened.
func (r *Registry) Loaded(key string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		return e.loaded
	}
	return nil
}

// Nodes returns the underlying node registry.
func (r *Registry) Nodes() *flux.Registry {
	return r.nodes
}

// Store returns the store the registry persists to.
func (r *Registry) Store() storage.Store {
	return r.store
}

// Keys lists the opened keys in sorted order.
func (r *Registry) Keys() []string {
	return r.nodes.Keys()
}

// Flush writes the current value of every loaded key that differs from what
// the store holds, without waiting for the throttle. It waits for pending
// loads first.
func (r *Registry) Flush(ctx context.Context) error {
	entries := r.snapshot()

	g, ctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		g.Go(func() error {
			select {
			case <-e.loaded:
			case <-ctx.Done():
				return ctx.Err()
			}
			data, err := e.encode()
			if err != nil {
				r.report(e.key, "encode", err)
				return fmt.Errorf("persist: encode %s: %w", e.key, err)
			}
			if !e.want(data) {
				return nil
			}
			if err := r.flushEntry(ctx, e); err != nil {
				return fmt.Errorf("persist: save %s: %w", e.key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Delete detaches key from the store and removes its stored value. The
// node, if any, keeps its value but is no longer persisted.
func (r *Registry) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	e, ok := r.entries[key]
	var off flux.Unsubscribe
	if ok {
		delete(r.entries, key)
		off = e.off
		e.off = nil
	}
	r.nodes.Delete(key)
	r.mu.Unlock()

	if off != nil {
		off()
	}
	if ok {
		e.markDeleted()
	}

	ctx, span := r.tracer.Start(ctx, "persist.delete",
		trace.WithAttributes(attribute.String("fluxio.key", key)))
	defer span.End()
	if err := r.store.Delete(ctx, key); err != nil {
		r.fail(span, key, "delete", err)
		return fmt.Errorf("persist: delete %s: %w", key, err)
	}
	return nil
}

// Close stops the write-back of every node, flushes their current values and
// waits for background work. Nodes stay usable but are no longer persisted.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.closing.Store(true)
	var offs []flux.Unsubscribe
	for _, e := range r.entries {
		if e.off != nil {
			offs = append(offs, e.off)
			e.off = nil
		}
	}
	r.mu.Unlock()

	for _, off := range offs {
		off()
	}
	err := r.Flush(ctx)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	r.cancel()
	return err
}

func (r *Registry) snapshot() []*entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

func (r *Registry) fail(span trace.Span, key, op string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.report(key, op, err)
}

func (r *Registry) report(key, op string, err error) {
	if op == "save" {
		r.logger.Error("persist write failed", "key", key, "error", err)
	} else {
		r.logger.Warn("persist failed", "key", key, "op", op, "error", err)
	}
	r.cfg.observer.Failed(key, op, err)
}
