package flux

import (
	"sync"
	"time"
)

// FromEvents derives a node holding the last event emitted by a raw event
// source. attach is called when the node connects and the Unsubscribe it
// returns when the node disconnects. Every event notifies, even one equal to
// the previous event.
func FromEvents[E any](attach func(emit func(E)) Unsubscribe, opts ...Option) *Node[E] {
	var (
		zero  E
		mu    sync.Mutex
		last  E
		fresh bool
	)
	return derive(FromFunc(func(onChange func()) Unsubscribe {
		return attach(func(e E) {
			mu.Lock()
			last, fresh = e, true
			mu.Unlock()
			onChange()
		})
	}), Derivation[E]{
		Sync: func(self *Node[E]) {
			mu.Lock()
			e, ok := last, fresh
			fresh = false
			mu.Unlock()
			if ok {
				self.ForceSet(e)
			}
		},
	}, zero, nil, "", opts)
}

// FromChan derives a node holding the last value received from ch. A
// goroutine reads ch while the node is connected; it exits when the node
// disconnects or ch is closed.
func FromChan[E any](ch <-chan E, opts ...Option) *Node[E] {
	return FromEvents(func(emit func(E)) Unsubscribe {
		done := make(chan struct{})
		go func() {
			for {
				select {
				case <-done:
					return
				case e, ok := <-ch:
					if !ok {
						return
					}
					select {
					case <-done:
						return
					default:
					}
					emit(e)
				}
			}
		}()
		var once sync.Once
		return func() { once.Do(func() { close(done) }) }
	}, opts...)
}

// Ticker derives a node holding the time of the last tick. It ticks every d
// while it has listeners and is seeded with the current time on connect.
func Ticker(d time.Duration, opts ...Option) *Node[time.Time] {
	clock := newConfig(nil, "", opts).clock
	events := FromEvents(func(emit func(time.Time)) Unsubscribe {
		var (
			slot timerSlot
			tick func()
		)
		tick = func() {
			slot.schedule(clock, d, tick)
			emit(clock.Now())
		}
		slot.schedule(clock, d, tick)
		return slot.close
	}, opts...)
	events.pipe.d.OnInit = func(self *Node[time.Time]) {
		self.Set(clock.Now())
	}
	return events
}
