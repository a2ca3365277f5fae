package flux_test

import (
	"context"
	"testing"
	"time"

	"github.com/vango-dev/fluxio/pkg/flux"
	"github.com/vango-dev/fluxio/pkg/flux/fluxtest"
)

func TestFromEvents(t *testing.T) {
	var emit func(string)
	detached := 0
	clicks := flux.FromEvents(func(e func(string)) flux.Unsubscribe {
		emit = e
		return func() { detached++ }
	})

	if emit != nil {
		t.Fatal("attach must wait for the first listener")
	}

	rec := fluxtest.Record(clicks)
	emit("a")
	emit("a")
	emit("b")
	fluxtest.ExpectValues(t, rec, "a", "a", "b")

	rec.Stop()
	if detached != 1 {
		t.Errorf("expected detach on last unsubscribe, got %d", detached)
	}
}

func TestFromChan(t *testing.T) {
	ch := make(chan int)
	latest := flux.FromChan(ch)
	off := latest.On(func(int) {})

	ch <- 1
	ch <- 2

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := latest.Wait(ctx, func(v int) (bool, error) { return v == 2, nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	off()
	time.Sleep(20 * time.Millisecond)

	// The reader is gone: an unbuffered send cannot complete.
	select {
	case ch <- 3:
		t.Error("expected reader goroutine to stop after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
	if latest.Peek() != 2 {
		t.Errorf("expected 2 to be kept, got %d", latest.Peek())
	}
}

func TestTicker(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := fluxtest.NewManualClock(start)
	tick := flux.Ticker(time.Second, flux.WithClock(clock))

	if clock.Pending() != 0 {
		t.Fatal("ticker must not run without listeners")
	}

	rec := fluxtest.Record(tick)
	clock.Advance(3 * time.Second)

	values := rec.Values()
	if len(values) != 4 {
		t.Fatalf("expected seed plus 3 ticks, got %v", values)
	}
	if !values[3].Equal(start.Add(3 * time.Second)) {
		t.Errorf("expected last tick at +3s, got %v", values[3])
	}

	rec.Stop()
	if clock.Pending() != 0 {
		t.Errorf("expected ticker to stop, got %d pending timers", clock.Pending())
	}
}
