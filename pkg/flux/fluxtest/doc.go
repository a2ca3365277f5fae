// Package fluxtest provides testing helpers for flux nodes.
//
// # Manual Clock
//
// ManualClock implements flux.Clock and only moves when told to, so timing
// combinators can be tested without sleeping:
//
//	func TestDebounce(t *testing.T) {
//	    clock := fluxtest.NewManualClock(time.Time{})
//	    src := flux.New(0, flux.WithClock(clock))
//	    rec := fluxtest.Record(src.Debounce(50 * time.Millisecond))
//	    defer rec.Stop()
//
//	    src.Set(1)
//	    clock.Advance(50 * time.Millisecond)
//	    fluxtest.ExpectValues(t, rec, 1)
//	}
//
// Timers fire synchronously inside Advance, in deadline order, on the
// calling goroutine.
//
// # Recorders
//
// Record subscribes to a node and keeps every value and error it delivers:
//
//	rec := fluxtest.Record(node)
//	node.Set(3)
//	fluxtest.ExpectValues(t, rec, 3)
//	fluxtest.ExpectNoErrors(t, rec)
package fluxtest
