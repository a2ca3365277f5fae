package flux

import "reflect"

// Merger is implemented by dictionary values that know how to merge a
// partial change into themselves.
type Merger[V any] interface {
	Merge(change V) V
}

// MergeValue merges change into old. Values implementing Merger[V] merge
// themselves. JSON-shaped values (map[string]any and []any, at any depth)
// are merged recursively: map keys of change override or extend old, and a
// nil in change deletes the key; slices are merged index by index, keeping
// old elements where change has nil or is shorter. Everything else is
// replaced by change.
func MergeValue[V any](old, change V) V {
	if isNil(any(old)) || isNil(any(change)) {
		return change
	}
	if m, ok := any(old).(Merger[V]); ok {
		return m.Merge(change)
	}
	if merged, ok := mergeAny(any(old), any(change)).(V); ok {
		return merged
	}
	return change
}

func mergeAny(a, b any) any {
	if a == nil || b == nil || reflect.TypeOf(a) != reflect.TypeOf(b) {
		return b
	}
	switch av := a.(type) {
	case map[string]any:
		bv := b.(map[string]any)
		out := make(map[string]any, len(av)+len(bv))
		for k, v := range av {
			out[k] = v
		}
		for k, v := range bv {
			if v == nil {
				delete(out, k)
				continue
			}
			out[k] = mergeAny(out[k], v)
		}
		return out
	case []any:
		bv := b.([]any)
		out := make([]any, max(len(av), len(bv)))
		for i := range out {
			switch {
			case i < len(bv) && bv[i] != nil:
				var prev any
				if i < len(av) {
					prev = av[i]
				}
				out[i] = mergeAny(prev, bv[i])
			case i < len(av):
				out[i] = av[i]
			}
		}
		return out
	}
	return b
}
