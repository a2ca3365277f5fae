package flux

import (
	"sync"
)

// Map derives a node holding convert(src). A panic in convert is put on the
// error channel of the derived node and its last value is kept.
func Map[U, T any](src *Node[U], convert func(U) T, opts ...Option) *Node[T] {
	return TryMap(src, func(v U) (T, error) { return convert(v), nil }, opts...)
}

// TryMap is Map with a fallible convert. Errors go to the error channel.
func TryMap[U, T any](src *Node[U], convert func(U) (T, error), opts ...Option) *Node[T] {
	var zero T
	return derive(From(src), Derivation[T]{
		Sync: func(self *Node[T]) {
			v, err := protect(convert, src.Get())
			if err != nil {
				self.SetError(err)
				return
			}
			self.Set(v)
		},
	}, zero, &src.cfg, "map", opts)
}

// Lens is a two-way Map: setting the derived node sets src to
// reverse(value). Values the lens produced itself are not written back.
func Lens[U, T any](src *Node[U], convert func(U) T, reverse func(T) U, opts ...Option) *Node[T] {
	var (
		zero T
		fwd  forward[T]
	)
	return derive(From(src), Derivation[T]{
		Sync: func(self *Node[T]) {
			v, err := protect(func(u U) (T, error) { return convert(u), nil }, src.Get())
			if err != nil {
				self.SetError(err)
				return
			}
			fwd.store(v)
			self.Set(v)
		},
		OnSet: func(v T, self *Node[T]) {
			if fwd.is(v) {
				return
			}
			u, err := protect(func(t T) (U, error) { return reverse(t), nil }, v)
			if err != nil {
				self.SetError(err)
				return
			}
			src.Set(u)
		},
		OnDispose: func(*Node[T]) { fwd.reset() },
	}, zero, &src.cfg, "lens", opts)
}

// Field derives a node holding one field of a struct-valued node. Setting the
// field node stores set(src.Get(), value) into src.
func Field[S, F any](src *Node[S], get func(S) F, set func(S, F) S, opts ...Option) *Node[F] {
	return Lens(src, get, func(f F) S { return set(src.Get(), f) }, opts...)
}

// forward remembers the last value a pipe derived from its upstream, so the
// reverse direction can tell echoes from writes.
type forward[T any] struct {
	mu    sync.Mutex
	value T
	ok    bool
}

func (f *forward[T]) store(v T) {
	f.mu.Lock()
	f.value, f.ok = v, true
	f.mu.Unlock()
}

func (f *forward[T]) is(v T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ok && Same(f.value, v)
}

func (f *forward[T]) reset() {
	f.mu.Lock()
	var zero T
	f.value, f.ok = zero, false
	f.mu.Unlock()
}

// protect runs fn and turns a panic into a *PanicError.
func protect[U, T any](fn func(U) (T, error), v U) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn(v)
}
