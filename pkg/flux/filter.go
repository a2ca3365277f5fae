package flux

import "sync"

// Filter derives a node that takes n's value only when keep accepts it;
// rejected values leave the derived node untouched. A panic in keep goes to
// the error channel.
func (n *Node[T]) Filter(keep func(T) bool, opts ...Option) *Node[T] {
	var zero T
	return derive(From(n), Derivation[T]{
		Sync: func(self *Node[T]) {
			v := n.Get()
			ok, err := protect(func(v T) (bool, error) { return keep(v), nil }, v)
			if err != nil {
				self.SetError(err)
				return
			}
			if ok {
				self.Set(v)
			}
		},
	}, zero, &n.cfg, "filter", opts)
}

// Scan derives a node folding every value of src into an accumulator that
// starts at seed. Every upstream change emits once, even when the
// accumulator did not change. The accumulator restarts from seed on each new
// connection.
func Scan[U, A any](src *Node[U], step func(acc A, v U) A, seed A, opts ...Option) *Node[A] {
	var (
		mu  sync.Mutex
		acc = seed
	)
	return derive(From(src), Derivation[A]{
		OnInit: func(*Node[A]) {
			mu.Lock()
			acc = seed
			mu.Unlock()
		},
		Sync: func(self *Node[A]) {
			v := src.Get()
			mu.Lock()
			next, err := protect(func(v U) (A, error) { return step(acc, v), nil }, v)
			if err == nil {
				acc = next
			}
			mu.Unlock()
			if err != nil {
				self.SetError(err)
				return
			}
			self.ForceSet(next)
		},
	}, seed, &src.cfg, "scan", opts)
}
