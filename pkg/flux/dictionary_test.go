package flux_test

import (
	"reflect"
	"testing"

	"github.com/vango-dev/fluxio/pkg/flux"
	"github.com/vango-dev/fluxio/pkg/flux/fluxtest"
)

func newDict[V any](init map[string]V) (*flux.Node[map[string]V], *flux.Dictionary[V], *fluxtest.Recorder[map[string]V]) {
	src := flux.New(init)
	d := flux.NewDictionary(src)
	rec := fluxtest.Record(d.Node)
	rec.Reset()
	return src, d, rec
}

func TestDictionaryMergeNoop(t *testing.T) {
	item := map[string]any{"n": 1}
	_, d, rec := newDict(map[string]any{"k": item})
	defer rec.Stop()

	d.Merge(map[string]any{"k": item}, false)
	d.Merge(map[string]any{"absent": nil}, false)
	d.Merge(nil, false)

	if rec.Count() != 0 {
		t.Errorf("expected zero notifications, got %d", rec.Count())
	}
}

func TestDictionaryUpdateAndDelete(t *testing.T) {
	src, d, rec := newDict(map[string]int{"a": 1, "b": 2})
	defer rec.Stop()

	d.Update(map[string]int{"a": 10, "c": 3})
	if !reflect.DeepEqual(src.Get(), map[string]int{"a": 10, "b": 2, "c": 3}) {
		t.Errorf("unexpected source after update: %v", src.Get())
	}

	d.Delete("b")
	d.Delete("missing")
	if _, ok := d.GetItem("b"); ok {
		t.Error("expected b to be deleted")
	}
	if rec.Count() != 2 {
		t.Errorf("expected 2 notifications, got %d", rec.Count())
	}

	if got := d.Keys(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("unexpected keys %v", got)
	}
	if got := d.Items(); !reflect.DeepEqual(got, []int{10, 3}) {
		t.Errorf("unexpected items %v", got)
	}
	if d.Len() != 2 {
		t.Errorf("expected len 2, got %d", d.Len())
	}
}

func TestDictionaryDeepMerge(t *testing.T) {
	_, d, rec := newDict(map[string]any{
		"user": map[string]any{
			"name": "ada",
			"tags": []any{"a", "b"},
			"addr": map[string]any{"city": "london", "zip": "n1"},
		},
	})
	defer rec.Stop()

	d.Merge(map[string]any{
		"user": map[string]any{
			"age":  36,
			"tags": []any{nil, "c", "d"},
			"addr": map[string]any{"zip": nil},
		},
	}, false)

	want := map[string]any{
		"name": "ada",
		"age":  36,
		"tags": []any{"a", "c", "d"},
		"addr": map[string]any{"city": "london"},
	}
	got, _ := d.GetItem("user")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("unexpected merge result:\n got %v\nwant %v", got, want)
	}
}

func TestDictionaryReplace(t *testing.T) {
	_, d, rec := newDict(map[string]any{"user": map[string]any{"name": "ada"}})
	defer rec.Stop()

	d.Merge(map[string]any{"user": map[string]any{"age": 36}}, true)
	got, _ := d.GetItem("user")
	if !reflect.DeepEqual(got, map[string]any{"age": 36}) {
		t.Errorf("replace should not merge, got %v", got)
	}
}

type counter struct {
	Hits int
}

func (c counter) Merge(change counter) counter {
	return counter{Hits: c.Hits + change.Hits}
}

func TestDictionaryMerger(t *testing.T) {
	_, d, rec := newDict(map[string]counter{"home": {Hits: 1}})
	defer rec.Stop()

	d.Merge(map[string]counter{"home": {Hits: 2}}, false)
	if got, _ := d.GetItem("home"); got.Hits != 3 {
		t.Errorf("expected Merger to sum hits, got %d", got.Hits)
	}
}

func TestDictionaryDisconnectedSeesSourceWrites(t *testing.T) {
	src := flux.New(map[string]int{"a": 1})
	d := flux.NewDictionary(src)
	d.Get()

	src.Set(map[string]int{"a": 1, "b": 2})
	if v, ok := d.GetItem("b"); !ok || v != 2 {
		t.Errorf("expected b=2, got %d %v", v, ok)
	}
	d.Merge(map[string]int{"c": 3}, true)
	if want := map[string]int{"a": 1, "b": 2, "c": 3}; !reflect.DeepEqual(src.Get(), want) {
		t.Errorf("expected %v, got %v", want, src.Get())
	}

	src.Set(map[string]int{"x": 9})
	d.Delete("x")
	if len(src.Get()) != 0 {
		t.Errorf("expected delete to apply to the latest map, got %v", src.Get())
	}
	d.Apply(func(next map[string]int) { next["y"] = 1 })
	if want := map[string]int{"y": 1}; !reflect.DeepEqual(src.Get(), want) {
		t.Errorf("expected %v, got %v", want, src.Get())
	}
}

func TestDictionaryApply(t *testing.T) {
	src, d, rec := newDict(map[string]int{"a": 1})
	defer rec.Stop()

	before := src.Get()
	d.Apply(func(next map[string]int) { next["b"] = 2 })

	if len(before) != 1 {
		t.Error("Apply must not mutate the previous map")
	}
	if !reflect.DeepEqual(src.Get(), map[string]int{"a": 1, "b": 2}) {
		t.Errorf("unexpected map %v", src.Get())
	}
}

func TestDictionaryNilMap(t *testing.T) {
	_, d, rec := newDict[int](nil)
	defer rec.Stop()

	d.SetItem("a", 1)
	if v, ok := d.GetItem("a"); !ok || v != 1 {
		t.Errorf("expected a=1, got %d, %v", v, ok)
	}
}

func TestDictionaryItem(t *testing.T) {
	_, d, rec := newDict(map[string]int{"a": 1})
	defer rec.Stop()

	a := d.Item("a")
	missing := d.Item("missing")
	itemRec := fluxtest.Record(a)
	defer itemRec.Stop()
	offMissing := missing.On(func(int) {})
	defer offMissing()

	if _, ok := d.GetItem("missing"); ok {
		t.Error("subscribing to an absent item must not create it")
	}

	d.SetItem("a", 5)
	a.Set(7)
	if v, _ := d.GetItem("a"); v != 7 {
		t.Errorf("expected item write through, got %d", v)
	}
	fluxtest.ExpectValues(t, itemRec, 1, 5, 7)
}
