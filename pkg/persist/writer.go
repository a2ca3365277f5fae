package persist

import (
	"bytes"
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/fluxio/pkg/flux"
)

// entry tracks the write-back state of one key.
//
// last is what the store holds as far as the registry knows, pending is the
// newest encoded value waiting to be written. Saves of one key are
// serialized by saveMu.
type entry struct {
	key    string
	loaded chan struct{}
	encode func() ([]byte, error)

	// off stops the write-back subscription. Guarded by Registry.mu.
	off flux.Unsubscribe

	saveMu sync.Mutex

	mu      sync.Mutex
	last    []byte
	pending []byte
	writing bool
	deleted bool
}

func newEntry(key string, encode func() ([]byte, error)) *entry {
	return &entry{
		key:    key,
		loaded: make(chan struct{}),
		encode: encode,
	}
}

func (e *entry) setLast(data []byte) {
	e.mu.Lock()
	e.last = data
	e.mu.Unlock()
}

// want records data as the value to write and reports whether it differs
// from what the store holds.
func (e *entry) want(data []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return false
	}
	e.pending = data
	return !e.synced()
}

// synced must be called with e.mu held.
func (e *entry) synced() bool {
	return e.deleted || e.pending == nil || bytes.Equal(e.pending, e.last)
}

func (e *entry) markDeleted() {
	e.mu.Lock()
	e.deleted = true
	e.pending = nil
	e.mu.Unlock()
}

func (e *entry) isDeleted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deleted
}

// enqueue hands data to the background writer of e, starting it if idle.
// After Close started, values are only recorded for the final flush.
func (r *Registry) enqueue(e *entry, data []byte) {
	if !e.want(data) || r.closing.Load() {
		return
	}
	e.mu.Lock()
	if e.writing {
		e.mu.Unlock()
		return
	}
	e.writing = true
	e.mu.Unlock()

	r.wg.Add(1)
	go r.writer(e)
}

// writer saves pending values of e until the store is in sync or a save
// fails. A failed value is retried by the next change or Flush.
func (r *Registry) writer(e *entry) {
	defer r.wg.Done()
	for {
		err := r.flushEntry(r.ctx, e)

		e.mu.Lock()
		if err != nil || e.synced() {
			e.writing = false
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()
	}
}

// flushEntry writes the pending value of e if the store doesn't hold it yet.
func (r *Registry) flushEntry(ctx context.Context, e *entry) error {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	data, synced := e.pending, e.synced()
	e.mu.Unlock()
	if synced {
		return nil
	}

	if err := r.save(ctx, e.key, data); err != nil {
		return err
	}

	e.mu.Lock()
	e.last = data
	e.mu.Unlock()
	return nil
}

func (r *Registry) save(ctx context.Context, key string, data []byte) error {
	ctx, span := r.tracer.Start(ctx, "persist.save", trace.WithAttributes(
		attribute.String("fluxio.key", key),
		attribute.Int("fluxio.size", len(data)),
	))
	defer span.End()

	start := time.Now()
	if err := r.store.Save(ctx, key, data); err != nil {
		r.fail(span, key, "save", err)
		return err
	}
	r.cfg.observer.Saved(key, len(data), time.Since(start))
	r.logger.Debug("persist saved", "key", key, "bytes", len(data))
	return nil
}
