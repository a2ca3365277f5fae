package flux

import (
	"context"
	"sync"
)

// MapAsync derives a node whose value is computed by convert on its own
// goroutine. Each upstream change cancels the context of the previous run,
// and a result from a superseded run is dropped, so the node always ends up
// with the result for the latest upstream value. Errors go to the error
// channel. Disconnecting cancels the run in flight.
func MapAsync[U, T any](src *Node[U], convert func(context.Context, U) (T, error), opts ...Option) *Node[T] {
	return mapAsync(src, convert, nil, "async", opts)
}

// LensAsync is a two-way MapAsync. Setting the derived node runs reverse on
// its own goroutine and stores the result into src. Values the lens produced
// itself are not written back.
func LensAsync[U, T any](src *Node[U], convert func(context.Context, U) (T, error), reverse func(context.Context, T) (U, error), opts ...Option) *Node[T] {
	return mapAsync(src, convert, reverse, "lens", opts)
}

func mapAsync[U, T any](src *Node[U], convert func(context.Context, U) (T, error), reverse func(context.Context, T) (U, error), suffix string, opts []Option) *Node[T] {
	var (
		zero T
		fwd  forward[T]
		run  latest
		back latest
	)
	d := Derivation[T]{
		Sync: func(self *Node[T]) {
			ctx, gen := run.start()
			v := src.Get()
			go func() {
				out, err := protect(func(v U) (T, error) { return convert(ctx, v) }, v)
				if !run.current(gen) {
					return
				}
				if err != nil {
					self.SetError(err)
					return
				}
				fwd.store(out)
				self.Set(out)
			}()
		},
		OnDispose: func(*Node[T]) {
			run.stop()
			back.stop()
			fwd.reset()
		},
	}
	if reverse != nil {
		d.OnSet = func(v T, self *Node[T]) {
			if fwd.is(v) {
				return
			}
			ctx, gen := back.start()
			go func() {
				u, err := protect(func(v T) (U, error) { return reverse(ctx, v) }, v)
				if !back.current(gen) {
					return
				}
				if err != nil {
					self.SetError(err)
					return
				}
				src.Set(u)
			}()
		}
	}
	return derive(From(src), d, zero, &src.cfg, suffix, opts)
}

// latest tracks the newest of a series of async runs.
type latest struct {
	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// start cancels the previous run and returns the context and token of a new one.
func (l *latest) start() (context.Context, uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
	l.gen++
	l.cancel = cancel
	return ctx, l.gen
}

func (l *latest) current(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen == gen
}

// stop cancels the run in flight and invalidates its token.
func (l *latest) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.gen++
}
