package fluxtest

import (
	"reflect"
	"sync"
	"testing"

	"github.com/vango-dev/fluxio/pkg/flux"
)

// Recorder collects what a node delivers to one listener.
type Recorder[T any] struct {
	mu     sync.Mutex
	values []T
	errs   []error
	off    flux.Unsubscribe
}

// Record subscribes a new Recorder to n.
func Record[T any](n *flux.Node[T]) *Recorder[T] {
	r := &Recorder[T]{}
	r.off = n.Subscribe(r.onValue, r.onError)
	return r
}

// RecordReplay is Record with the current value replayed first.
func RecordReplay[T any](n *flux.Node[T]) *Recorder[T] {
	r := &Recorder[T]{}
	r.off = n.SubscribeReplay(r.onValue, r.onError)
	return r
}

func (r *Recorder[T]) onValue(v T) {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.mu.Unlock()
}

func (r *Recorder[T]) onError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

// Values returns a copy of the recorded values.
func (r *Recorder[T]) Values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...)
}

// Errors returns a copy of the recorded errors.
func (r *Recorder[T]) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// Count returns the number of recorded values.
func (r *Recorder[T]) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

// Last returns the last recorded value.
func (r *Recorder[T]) Last() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.values) == 0 {
		var zero T
		return zero, false
	}
	return r.values[len(r.values)-1], true
}

// Reset forgets everything recorded so far.
func (r *Recorder[T]) Reset() {
	r.mu.Lock()
	r.values, r.errs = nil, nil
	r.mu.Unlock()
}

// Stop unsubscribes the recorder.
func (r *Recorder[T]) Stop() {
	r.off()
}

// ExpectValues asserts that r recorded exactly want, in order.
//
// Example:
//
//	fluxtest.ExpectValues(t, rec, 1, 2, 3)
func ExpectValues[T any](t testing.TB, r *Recorder[T], want ...T) {
	t.Helper()
	got := r.Values()
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected values %v, got %v", want, got)
	}
}

// ExpectNoErrors asserts that r recorded no error.
func ExpectNoErrors[T any](t testing.TB, r *Recorder[T]) {
	t.Helper()
	if errs := r.Errors(); len(errs) > 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

// ExpectGet asserts that n.Get() equals want.
func ExpectGet[T any](t testing.TB, n *flux.Node[T], want T) {
	t.Helper()
	if got := n.Get(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %s to hold %v, got %v", nodeLabel(n.Name()), want, got)
	}
}

func nodeLabel(name string) string {
	if name == "" {
		return "node"
	}
	return name
}
