package flux

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Unsubscribe removes the listener it was returned for. Calling it more than
// once is a no-op.
type Unsubscribe func()

// entry is one listener registration. Registering the same callbacks twice
// yields two entries with distinct ids.
type entry[T any] struct {
	id      uint64
	onValue func(T)
	onError func(error)

	// gotValue and gotError record whether anything reached the entry, so
	// a replay does not repeat what connecting a pipe already delivered.
	gotValue atomic.Bool
	gotError atomic.Bool
}

// Node is an observable value. A Node created with New is a source: its value
// changes only through Set, ForceSet and Update. A Node created with Derive
// (or any combinator) is a pipe: its value is pulled from an upstream while
// it has listeners.
//
// The node mutex is never held while user callbacks run, so a listener may
// set, subscribe to or unsubscribe from the node that is notifying it. A
// nested Set runs its whole notify cycle before the outer cycle moves on to
// its next listener.
type Node[T any] struct {
	cfg config

	mu      sync.Mutex
	value   T
	err     error
	entries []*entry[T]
	nextID  uint64
	equal   func(a, b T) bool

	// pipe is nil for source nodes.
	pipe *pipe[T]
}

// New creates a source node holding initial.
func New[T any](initial T, opts ...Option) *Node[T] {
	return &Node[T]{
		cfg:   newConfig(nil, "", opts),
		value: initial,
	}
}

// WithEqual replaces the equality used by Set to skip unchanged values and
// returns the node for chaining.
func (n *Node[T]) WithEqual(fn func(a, b T) bool) *Node[T] {
	n.mu.Lock()
	n.equal = fn
	n.mu.Unlock()
	return n
}

// Name returns the node name given with WithName (possibly suffixed by the
// combinator that derived it).
func (n *Node[T]) Name() string {
	return n.cfg.name
}

// Get returns the current value. On a pipe without listeners the first Get
// pulls the value from upstream once, without connecting to it.
func (n *Node[T]) Get() T {
	if n.pipe != nil {
		n.pipe.ensureInit(n)
	}
	return n.Peek()
}

// Peek returns the stored value without triggering a lazy pull.
func (n *Node[T]) Peek() T {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.value
}

// Err returns the last error put on the error channel.
func (n *Node[T]) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// Set stores v and notifies listeners, unless v equals the current value.
func (n *Node[T]) Set(v T) {
	n.set(v, false)
}

// ForceSet stores v and notifies listeners even if v equals the current value.
func (n *Node[T]) ForceSet(v T) {
	n.set(v, true)
}

// Update sets the value returned by fn for the current value.
func (n *Node[T]) Update(fn func(prev T) T) {
	n.Set(fn(n.Get()))
}

func (n *Node[T]) set(v T, force bool) {
	n.mu.Lock()
	if !force && n.equals(n.value, v) {
		n.mu.Unlock()
		n.cfg.logger.Debug("flux set skipped", "node", n.cfg.name)
	} else {
		n.value = v
		n.mu.Unlock()
		n.cfg.logger.Debug("flux set", "node", n.cfg.name)
		n.cfg.observer.ValueSet(n.cfg.name)
		n.Notify()
	}

	if p := n.pipe; p != nil && p.d.OnSet != nil {
		p.d.OnSet(v, n)
	}
}

// equals must be called with n.mu held.
func (n *Node[T]) equals(a, b T) bool {
	if n.equal != nil {
		return n.equal(a, b)
	}
	return Same(a, b)
}

// Notify delivers the current value to every listener registered when the
// call started. Listeners added or removed meanwhile do not change this
// delivery.
func (n *Node[T]) Notify() {
	n.mu.Lock()
	v := n.value
	snapshot := make([]*entry[T], len(n.entries))
	copy(snapshot, n.entries)
	n.mu.Unlock()

	start := time.Now()
	for i := 0; i < len(snapshot); i++ {
		if snapshot[i].onValue != nil {
			n.deliverValue(snapshot[i], v)
		}
	}
	n.cfg.observer.Notified(n.cfg.name, len(snapshot), time.Since(start))
}

// SetError stores err and delivers it to the error listeners. The value is
// left untouched, and a later Set does not clear the error.
func (n *Node[T]) SetError(err error) {
	n.mu.Lock()
	n.err = err
	snapshot := make([]*entry[T], len(n.entries))
	copy(snapshot, n.entries)
	n.mu.Unlock()

	n.cfg.logger.Warn("flux error", "node", n.cfg.name, "error", err)
	n.cfg.observer.ErrorSet(n.cfg.name, err)
	for i := 0; i < len(snapshot); i++ {
		if snapshot[i].onError != nil {
			n.deliverError(snapshot[i], err)
		}
	}
}

// ClearError resets the error channel without notifying anyone.
func (n *Node[T]) ClearError() {
	n.mu.Lock()
	n.err = nil
	n.mu.Unlock()
}

func (n *Node[T]) deliverValue(e *entry[T], v T) {
	e.gotValue.Store(true)
	defer n.recoverListener()
	e.onValue(v)
}

func (n *Node[T]) deliverError(e *entry[T], err error) {
	e.gotError.Store(true)
	defer n.recoverListener()
	e.onError(err)
}

func (n *Node[T]) recoverListener() {
	if r := recover(); r != nil {
		n.cfg.logger.Error("flux listener panicked", "node", n.cfg.name, "panic", r)
		n.cfg.observer.ListenerPanicked(n.cfg.name, r)
	}
}

// Subscribe registers listeners for the value and error channels. Either may
// be nil. Subscribing to a pipe connects it to its upstream.
func (n *Node[T]) Subscribe(onValue func(T), onError func(error)) Unsubscribe {
	return n.subscribe(onValue, onError, false)
}

// SubscribeReplay is Subscribe followed by an immediate delivery of the
// current value (and the current error, if any) to the new listeners.
func (n *Node[T]) SubscribeReplay(onValue func(T), onError func(error)) Unsubscribe {
	return n.subscribe(onValue, onError, true)
}

// On subscribes a value listener.
func (n *Node[T]) On(onValue func(T)) Unsubscribe {
	return n.subscribe(onValue, nil, false)
}

func (n *Node[T]) subscribe(onValue func(T), onError func(error), replay bool) Unsubscribe {
	n.mu.Lock()
	n.nextID++
	e := &entry[T]{id: n.nextID, onValue: onValue, onError: onError}
	n.entries = append(n.entries, e)
	n.mu.Unlock()

	if n.pipe != nil {
		n.pipe.connect(n)
		if replay {
			// Lazy pull for a pipe that stayed disconnected.
			n.pipe.ensureInit(n)
		}
	}

	if replay {
		n.mu.Lock()
		v, err := n.value, n.err
		n.mu.Unlock()
		if onValue != nil && !e.gotValue.Load() {
			n.deliverValue(e, v)
		}
		if err != nil && onError != nil && !e.gotError.Load() {
			n.deliverError(e, err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { n.remove(e.id) })
	}
}

func (n *Node[T]) remove(id uint64) {
	n.mu.Lock()
	removed := false
	for i, e := range n.entries {
		if e.id == id {
			n.entries = append(n.entries[:i:i], n.entries[i+1:]...)
			removed = true
			break
		}
	}
	idle := len(n.entries) == 0
	n.mu.Unlock()

	if removed && idle && n.pipe != nil {
		n.pipe.disconnect(n, true)
	}
}

// Clear removes every listener. A pipe disconnects from its upstream.
func (n *Node[T]) Clear() {
	n.mu.Lock()
	n.entries = nil
	n.mu.Unlock()

	if n.pipe != nil {
		n.pipe.disconnect(n, false)
	}
}

// Listeners returns the number of registered listeners.
func (n *Node[T]) Listeners() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.entries)
}

// Wait blocks until the node holds a value accepted by match and returns it.
// The current value is checked first. A nil match accepts any value for which
// IsSet holds. If match returns an error or panics, Wait returns that error.
// The listener installed by Wait is removed before it returns.
func (n *Node[T]) Wait(ctx context.Context, match func(T) (bool, error)) (T, error) {
	if match == nil {
		match = func(v T) (bool, error) { return IsSet(v), nil }
	}

	var (
		mu       sync.Mutex
		finished bool
		result   T
		failure  error
		done     = make(chan struct{})
	)
	finish := func(v T, err error) {
		mu.Lock()
		defer mu.Unlock()
		if finished {
			return
		}
		finished = true
		result, failure = v, err
		close(done)
	}

	off := n.SubscribeReplay(func(v T) {
		ok, err := checkMatch(match, v)
		if err != nil {
			var zero T
			finish(zero, err)
			return
		}
		if ok {
			finish(v, nil)
		}
	}, nil)
	defer off()

	select {
	case <-done:
		mu.Lock()
		defer mu.Unlock()
		return result, failure
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func checkMatch[T any](match func(T) (bool, error), v T) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return match(v)
}

// String formats the current value.
func (n *Node[T]) String() string {
	return fmt.Sprint(n.Get())
}

// MarshalJSON encodes the current value, so a node embedded in a struct
// serializes as its value.
func (n *Node[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Get())
}

// SetJSON decodes data into a T and sets it.
func (n *Node[T]) SetJSON(data []byte) error {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("flux: decode %s: %w", n.cfg.name, err)
	}
	n.Set(v)
	return nil
}

// GetAny returns the current value as an any.
func (n *Node[T]) GetAny() any {
	return n.Get()
}

// SetAny sets the value from an any. It returns a *TypeMismatchError when v
// is not a T.
func (n *Node[T]) SetAny(v any) error {
	tv, ok := v.(T)
	if !ok {
		// A nil any is accepted for nillable T and stores the zero value.
		var zero T
		if v != nil || !isNil(any(zero)) {
			return &TypeMismatchError{Key: n.cfg.name, Expected: typeName[T](), Actual: typeNameOf(v)}
		}
	}
	n.Set(tv)
	return nil
}

// SubscribeAny is Subscribe with type-erased values.
func (n *Node[T]) SubscribeAny(onValue func(any), onError func(error)) Unsubscribe {
	return n.Subscribe(anyListener[T](onValue), onError)
}

// WatchAny is SubscribeReplay with type-erased values.
func (n *Node[T]) WatchAny(onValue func(any), onError func(error)) Unsubscribe {
	return n.SubscribeReplay(anyListener[T](onValue), onError)
}

func anyListener[T any](fn func(any)) func(T) {
	if fn == nil {
		return nil
	}
	return func(v T) { fn(v) }
}

func (n *Node[T]) subscribeChange(onChange func(), onError func(error)) Unsubscribe {
	return n.Subscribe(func(T) { onChange() }, onError)
}

func (n *Node[T]) nodeConfig() *config {
	return &n.cfg
}

// AnyNode is the type-erased view of a *Node[T], used by registries and
// bindings that handle nodes of mixed types.
type AnyNode interface {
	Name() string
	GetAny() any
	SetAny(v any) error
	SetJSON(data []byte) error
	MarshalJSON() ([]byte, error)
	Err() error
	Listeners() int
	SubscribeAny(onValue func(any), onError func(error)) Unsubscribe
	WatchAny(onValue func(any), onError func(error)) Unsubscribe

	subscribeChange(onChange func(), onError func(error)) Unsubscribe
	nodeConfig() *config
}

var _ AnyNode = (*Node[int])(nil)
