package flux

import (
	"maps"
	"slices"
)

// Dictionary is a two-way pipe over a map-valued node with partial update
// operations. Every operation builds a new map and sets it only when
// something changed, so no-op updates notify nobody. A nil map is treated
// as empty.
type Dictionary[V any] struct {
	*Node[map[string]V]
	src *Node[map[string]V]
}

// NewDictionary wraps src. Setting the dictionary sets src.
func NewDictionary[V any](src *Node[map[string]V], opts ...Option) *Dictionary[V] {
	n := derive(From(src), Derivation[map[string]V]{
		Sync: func(self *Node[map[string]V]) {
			self.Set(src.Get())
		},
		OnSet: func(v map[string]V, _ *Node[map[string]V]) {
			src.Set(v)
		},
	}, nil, &src.cfg, "dict", opts)
	return &Dictionary[V]{Node: n, src: src}
}

// Source returns the wrapped node.
func (d *Dictionary[V]) Source() *Node[map[string]V] {
	return d.src
}

// current reads the source directly, so operations on a disconnected
// dictionary see writes made to src since the last pull.
func (d *Dictionary[V]) current() map[string]V {
	return d.src.Get()
}

// Merge applies changes to the current map. Keys whose value is the Same as
// the current one are ignored, and so are nil values for absent keys. A nil
// value deletes its key. With replace, values are assigned; otherwise they
// are merged into the current value with MergeValue.
func (d *Dictionary[V]) Merge(changes map[string]V, replace bool) *Dictionary[V] {
	prev := d.current()

	diff := make(map[string]V, len(changes))
	for k, v := range changes {
		old, ok := prev[k]
		if ok && Same(old, v) {
			continue
		}
		if !ok && isNil(any(v)) {
			continue
		}
		diff[k] = v
	}
	if len(diff) == 0 {
		return d
	}

	next := make(map[string]V, len(prev)+len(diff))
	maps.Copy(next, prev)
	for k, v := range diff {
		switch old, ok := next[k]; {
		case isNil(any(v)):
			delete(next, k)
		case replace || !ok:
			next[k] = v
		default:
			next[k] = MergeValue(old, v)
		}
	}
	d.Set(next)
	return d
}

// Update is Merge with replace.
func (d *Dictionary[V]) Update(changes map[string]V) *Dictionary[V] {
	return d.Merge(changes, true)
}

// Apply runs fn on a copy of the current map and sets the result.
func (d *Dictionary[V]) Apply(fn func(next map[string]V)) *Dictionary[V] {
	next := maps.Clone(d.current())
	if next == nil {
		next = make(map[string]V)
	}
	fn(next)
	d.Set(next)
	return d
}

// GetItem returns the value stored under key.
func (d *Dictionary[V]) GetItem(key string) (V, bool) {
	v, ok := d.current()[key]
	return v, ok
}

// SetItem stores v under key, or deletes key when v is nil.
func (d *Dictionary[V]) SetItem(key string, v V) *Dictionary[V] {
	return d.Update(map[string]V{key: v})
}

// Delete removes key.
func (d *Dictionary[V]) Delete(key string) *Dictionary[V] {
	prev := d.current()
	if _, ok := prev[key]; !ok {
		return d
	}
	next := maps.Clone(prev)
	delete(next, key)
	d.Set(next)
	return d
}

// Keys returns the keys in sorted order.
func (d *Dictionary[V]) Keys() []string {
	return slices.Sorted(maps.Keys(d.current()))
}

// Items returns the values ordered by key.
func (d *Dictionary[V]) Items() []V {
	m := d.current()
	keys := slices.Sorted(maps.Keys(m))
	items := make([]V, len(keys))
	for i, k := range keys {
		items[i] = m[k]
	}
	return items
}

// Len returns the number of entries.
func (d *Dictionary[V]) Len() int {
	return len(d.current())
}

// Item derives a node following the value under key. Setting it updates key
// in the dictionary.
func (d *Dictionary[V]) Item(key string, opts ...Option) *Node[V] {
	var (
		zero V
		fwd  forward[V]
	)
	if name := itemName(d.Name(), key); name != "" {
		opts = append([]Option{WithName(name)}, opts...)
	}
	return derive(From(d.Node), Derivation[V]{
		Sync: func(self *Node[V]) {
			v := d.Get()[key]
			fwd.store(v)
			self.Set(v)
		},
		OnSet: func(v V, _ *Node[V]) {
			if fwd.is(v) {
				return
			}
			d.SetItem(key, v)
		},
		OnDispose: func(*Node[V]) { fwd.reset() },
	}, zero, &d.cfg, "", opts)
}

func itemName(dict, key string) string {
	if dict == "" {
		return ""
	}
	return dict + "[" + key + "]"
}
