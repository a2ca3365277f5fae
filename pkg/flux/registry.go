package flux

import (
	"slices"
	"sync"
)

// Registry maps keys to nodes so that every caller asking for a key gets the
// same node. Registries are independent of each other.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]AnyNode
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]AnyNode)}
}

// Lookup returns the node registered under key, creating it with factory
// when the key is free. The factory runs at most once per key and must not
// use r. A key bound to a node of another type yields a *TypeMismatchError.
func Lookup[T any](r *Registry, key string, factory func() *Node[T]) (*Node[T], error) {
	r.mu.RLock()
	existing, ok := r.nodes[key]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		existing, ok = r.nodes[key]
		if !ok {
			n := factory()
			if n == nil {
				r.mu.Unlock()
				return nil, ErrNilNode
			}
			r.nodes[key] = n
			r.mu.Unlock()
			return n, nil
		}
		r.mu.Unlock()
	}
	n, ok := existing.(*Node[T])
	if !ok {
		return nil, &TypeMismatchError{Key: key, Expected: typeName[*Node[T]](), Actual: typeNameOf(existing)}
	}
	return n, nil
}

// Value is Lookup with a factory creating a source node holding init and
// named after key.
func Value[T any](r *Registry, key string, init T, opts ...Option) (*Node[T], error) {
	return Lookup(r, key, func() *Node[T] {
		return New(init, append([]Option{WithName(key)}, opts...)...)
	})
}

// Register binds n to key, replacing any previous binding.
func (r *Registry) Register(key string, n AnyNode) error {
	if n == nil || isNil(n) {
		return ErrNilNode
	}
	r.mu.Lock()
	r.nodes[key] = n
	r.mu.Unlock()
	return nil
}

// Get returns the node registered under key.
func (r *Registry) Get(key string) (AnyNode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[key]
	return n, ok
}

// Delete removes the binding of key. The node itself is left alone.
func (r *Registry) Delete(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.nodes[key]
	delete(r.nodes, key)
	return ok
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.nodes))
	for k := range r.nodes {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

// Len returns the number of registered keys.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}
