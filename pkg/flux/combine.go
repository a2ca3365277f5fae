package flux

import "sync"

// Tuple2 is the value of a Combine2 node.
type Tuple2[A, B any] struct {
	First  A
	Second B
}

// Tuple3 is the value of a Combine3 node.
type Tuple3[A, B, C any] struct {
	First  A
	Second B
	Third  C
}

// Combine derives a node holding the values of all sources, in source order.
// Any source change emits a new slice. Setting the combined node pushes each
// element back to the source at the same index; extra elements are ignored.
// Errors of any source are forwarded.
func Combine[T any](sources []*Node[T], opts ...Option) *Node[[]T] {
	ups := make([]AnyNode, len(sources))
	for i, s := range sources {
		ups[i] = s
	}
	var self *Node[[]T]
	self = derive(FromFunc(func(onChange func()) Unsubscribe {
		return attachAll(ups, onChange, func(err error) { self.SetError(err) })
	}), Derivation[[]T]{
		Sync: func(self *Node[[]T]) {
			vals := make([]T, len(sources))
			for i, s := range sources {
				vals[i] = s.Get()
			}
			self.Set(vals)
		},
		OnSet: func(vals []T, _ *Node[[]T]) {
			for i, v := range vals {
				if i >= len(sources) {
					break
				}
				sources[i].Set(v)
			}
		},
	}, nil, firstConfig(ups), "combine", opts)
	return self
}

// Combine2 derives a node holding the values of a and b. Setting it sets
// both sources.
func Combine2[A, B any](a *Node[A], b *Node[B], opts ...Option) *Node[Tuple2[A, B]] {
	ups := []AnyNode{a, b}
	var self *Node[Tuple2[A, B]]
	self = derive(FromFunc(func(onChange func()) Unsubscribe {
		return attachAll(ups, onChange, func(err error) { self.SetError(err) })
	}), Derivation[Tuple2[A, B]]{
		Sync: func(self *Node[Tuple2[A, B]]) {
			self.Set(Tuple2[A, B]{First: a.Get(), Second: b.Get()})
		},
		OnSet: func(v Tuple2[A, B], _ *Node[Tuple2[A, B]]) {
			a.Set(v.First)
			b.Set(v.Second)
		},
	}, Tuple2[A, B]{}, &a.cfg, "combine", opts)
	return self
}

// Combine3 derives a node holding the values of a, b and c. Setting it sets
// all three sources.
func Combine3[A, B, C any](a *Node[A], b *Node[B], c *Node[C], opts ...Option) *Node[Tuple3[A, B, C]] {
	ups := []AnyNode{a, b, c}
	var self *Node[Tuple3[A, B, C]]
	self = derive(FromFunc(func(onChange func()) Unsubscribe {
		return attachAll(ups, onChange, func(err error) { self.SetError(err) })
	}), Derivation[Tuple3[A, B, C]]{
		Sync: func(self *Node[Tuple3[A, B, C]]) {
			self.Set(Tuple3[A, B, C]{First: a.Get(), Second: b.Get(), Third: c.Get()})
		},
		OnSet: func(v Tuple3[A, B, C], _ *Node[Tuple3[A, B, C]]) {
			a.Set(v.First)
			b.Set(v.Second)
			c.Set(v.Third)
		},
	}, Tuple3[A, B, C]{}, &a.cfg, "combine", opts)
	return self
}

// Union derives a node holding the value of whichever source changed last.
// It holds the zero value until a source changes while it is connected.
func Union[T any](sources []*Node[T], opts ...Option) *Node[T] {
	var (
		mu   sync.Mutex
		last T
		self *Node[T]
	)
	ups := make([]AnyNode, len(sources))
	for i, s := range sources {
		ups[i] = s
	}
	var zero T
	self = derive(FromFunc(func(onChange func()) Unsubscribe {
		offs := make([]Unsubscribe, len(sources))
		for i, s := range sources {
			offs[i] = s.Subscribe(func(v T) {
				mu.Lock()
				last = v
				mu.Unlock()
				onChange()
			}, func(err error) { self.SetError(err) })
		}
		return joinUnsubscribe(offs)
	}), Derivation[T]{
		Sync: func(self *Node[T]) {
			mu.Lock()
			v := last
			mu.Unlock()
			self.Set(v)
		},
	}, zero, firstConfig(ups), "union", opts)
	return self
}

// attachAll subscribes onChange and onError to every node and returns one
// Unsubscribe for all of them.
func attachAll(nodes []AnyNode, onChange func(), onError func(error)) Unsubscribe {
	offs := make([]Unsubscribe, len(nodes))
	for i, n := range nodes {
		offs[i] = n.subscribeChange(onChange, onError)
	}
	return joinUnsubscribe(offs)
}

func joinUnsubscribe(offs []Unsubscribe) Unsubscribe {
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

func firstConfig(nodes []AnyNode) *config {
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0].nodeConfig()
}
