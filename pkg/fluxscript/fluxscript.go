// Package fluxscript derives nodes through sandboxed Lua scripts.
//
// A script defines a global function exec that receives the upstream value
// and returns the derived value:
//
//	total, err := fluxscript.Compile("total", `
//	    function exec(cart)
//	        local sum = 0
//	        for _, item in ipairs(cart.items) do sum = sum + item.price end
//	        return sum
//	    end`)
//	sum := fluxscript.Map(cart, total)
//
// Values cross the boundary in their decoded JSON shape: tables with keys
// 1..n become []any, other tables map[string]any, numbers float64.
package fluxscript

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Shopify/go-lua"

	"github.com/vango-dev/fluxio/pkg/flux"
)

// ErrNoExec is returned by Compile for scripts without an exec function.
var ErrNoExec = errors.New("fluxscript: script does not define exec")

// Script is a compiled Lua transform. Runs are serialized on one Lua state,
// so a Script is safe for concurrent use but globals persist between runs.
type Script struct {
	name string

	mu sync.Mutex
	l  *lua.State
}

// Compile loads source into a fresh sandboxed state.
func Compile(name, source string) (*Script, error) {
	l := lua.NewState()
	sandbox(l)

	if err := lua.DoString(l, source); err != nil {
		return nil, fmt.Errorf("fluxscript: load %s: %w", name, err)
	}
	l.Global("exec")
	isFunc := l.TypeOf(-1) == lua.TypeFunction
	l.Pop(1)
	if !isFunc {
		return nil, fmt.Errorf("%w: %s", ErrNoExec, name)
	}
	return &Script{name: name, l: l}, nil
}

// Name returns the name given to Compile.
func (s *Script) Name() string {
	return s.name
}

// Run calls exec with input and returns its result.
func (s *Script) Run(input any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.l
	top := l.Top()
	defer l.SetTop(top)

	l.Global("exec")
	push(l, input)
	if err := l.ProtectedCall(1, 1, 0); err != nil {
		return nil, fmt.Errorf("fluxscript: run %s: %w", s.name, err)
	}
	return pull(l, -1), nil
}

// Map derives a node holding the result of s for every value of src. Script
// errors go to the node's error channel and keep the last good value.
func Map(src *flux.Node[any], s *Script, opts ...flux.Option) *flux.Node[any] {
	opts = append([]flux.Option{flux.WithName(scriptName(src, s))}, opts...)
	return flux.TryMap(src, s.Run, opts...).WithEqual(flux.DeepEqual[any])
}

func scriptName(src *flux.Node[any], s *Script) string {
	if src.Name() == "" {
		return s.name
	}
	return src.Name() + "." + s.name
}

// sandbox opens the pure libraries only: no io, os, package or loaders.
func sandbox(l *lua.State) {
	for _, lib := range []struct {
		name string
		open lua.Function
	}{
		{"_G", lua.BaseOpen},
		{"string", lua.StringOpen},
		{"table", lua.TableOpen},
		{"math", lua.MathOpen},
	} {
		lua.Require(l, lib.name, lib.open, true)
		l.Pop(1)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		l.PushNil()
		l.SetGlobal(name)
	}
}

func push(l *lua.State, v any) {
	switch t := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(t)
	case int:
		l.PushInteger(t)
	case int64:
		l.PushNumber(float64(t))
	case float64:
		l.PushNumber(t)
	case string:
		l.PushString(t)
	case []any:
		l.CreateTable(len(t), 0)
		for i, item := range t {
			push(l, item)
			l.RawSetInt(-2, i+1)
		}
	case map[string]any:
		l.CreateTable(0, len(t))
		for k, item := range t {
			push(l, item)
			l.SetField(-2, k)
		}
	default:
		// Anything else goes through its JSON form.
		data, err := json.Marshal(t)
		if err != nil {
			l.PushNil()
			return
		}
		var decoded any
		if err := json.Unmarshal(data, &decoded); err != nil {
			l.PushNil()
			return
		}
		push(l, decoded)
	}
}

func pull(l *lua.State, idx int) any {
	switch l.TypeOf(idx) {
	case lua.TypeBoolean:
		return l.ToBoolean(idx)
	case lua.TypeNumber:
		n, _ := l.ToNumber(idx)
		return n
	case lua.TypeString:
		s, _ := l.ToString(idx)
		return s
	case lua.TypeTable:
		return pullTable(l, l.AbsIndex(idx))
	default:
		return nil
	}
}

func pullTable(l *lua.State, idx int) any {
	n := l.RawLength(idx)
	count := 0
	l.PushNil()
	for l.Next(idx) {
		count++
		l.Pop(1)
	}

	if n > 0 && n == count {
		out := make([]any, n)
		for i := 1; i <= n; i++ {
			l.RawGetInt(idx, i)
			out[i-1] = pull(l, -1)
			l.Pop(1)
		}
		return out
	}

	out := make(map[string]any, count)
	l.PushNil()
	for l.Next(idx) {
		// Copy the key: ToString on a number key would change it in place
		// and break Next.
		l.PushValue(-2)
		key, _ := l.ToString(-1)
		l.Pop(1)
		out[key] = pull(l, -1)
		l.Pop(1)
	}
	return out
}
