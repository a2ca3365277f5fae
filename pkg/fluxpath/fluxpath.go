// Package fluxpath derives nodes from JSONPath selections of untyped nodes.
//
// Values are expected in their decoded JSON shape (map[string]any, []any,
// float64, string, bool, nil), which is what persist.OpenAll and the HTTP
// binding produce:
//
//	doc := flux.New[any](map[string]any{"user": map[string]any{"name": "ada"}})
//	name, err := fluxpath.Select(doc, "$.user.name")
//	name.Get()      // "ada"
//	name.Set("bob") // doc now holds {"user": {"name": "bob"}}
package fluxpath

import (
	"fmt"

	"github.com/ohler55/ojg/jp"

	"github.com/vango-dev/fluxio/pkg/flux"
)

// Compile parses a JSONPath expression.
func Compile(path string) (jp.Expr, error) {
	expr, err := jp.ParseString(path)
	if err != nil {
		return nil, fmt.Errorf("fluxpath: invalid path %q: %w", path, err)
	}
	return expr, nil
}

// Select derives a node holding the first match of path in src, or nil when
// nothing matches. Setting the derived node writes the value back into a
// copy of src's value at path and sets src to that copy.
func Select(src *flux.Node[any], path string, opts ...flux.Option) (*flux.Node[any], error) {
	expr, err := Compile(path)
	if err != nil {
		return nil, err
	}
	sel := flux.Lens(src,
		func(doc any) any {
			return expr.First(doc)
		},
		func(v any) any {
			doc := Clone(src.Peek())
			if doc == nil {
				return doc
			}
			if err := expr.Set(doc, v); err != nil {
				src.SetError(fmt.Errorf("fluxpath: set %s: %w", path, err))
				return src.Peek()
			}
			return doc
		},
		append([]flux.Option{flux.WithName(selectName(src, path))}, opts...)...,
	)
	return sel.WithEqual(flux.DeepEqual[any]), nil
}

// SelectAll derives a read-only node holding every match of path in src.
func SelectAll(src *flux.Node[any], path string, opts ...flux.Option) (*flux.Node[[]any], error) {
	expr, err := Compile(path)
	if err != nil {
		return nil, err
	}
	matches := flux.Map(src, func(doc any) []any {
		return expr.Get(doc)
	}, append([]flux.Option{flux.WithName(selectName(src, path))}, opts...)...)
	return matches.WithEqual(flux.DeepEqual[[]any]), nil
}

// Clone deep-copies the maps and slices of a decoded JSON value. Other
// values are returned as is.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = Clone(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Clone(item)
		}
		return out
	default:
		return v
	}
}

func selectName(src *flux.Node[any], path string) string {
	if src.Name() == "" {
		return ""
	}
	return src.Name() + path
}
