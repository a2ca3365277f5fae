package flux

import (
	"sync"
	"time"
)

// Debounce derives a node that follows n once n has been quiet for d: every
// change of n restarts the timer and only the latest value is emitted.
// Setting the debounced node sets n. The node is seeded with n's value when
// it connects.
func (n *Node[T]) Debounce(d time.Duration, opts ...Option) *Node[T] {
	var (
		zero T
		slot timerSlot
	)
	return derive(From(n), Derivation[T]{
		OnInit: func(self *Node[T]) {
			self.Set(n.Get())
		},
		Sync: func(self *Node[T]) {
			slot.schedule(self.cfg.clock, d, func() {
				self.Set(n.Get())
			})
		},
		OnSet: func(v T, _ *Node[T]) {
			n.Set(v)
		},
		OnDispose: func(*Node[T]) { slot.cancel() },
	}, zero, &n.cfg, "debounce", opts)
}

// Throttle derives a node that follows n at most once per d. The first
// change is emitted immediately and opens a window of d; changes inside the
// window are held back and the latest one is emitted when the window ends,
// which opens the next window. Setting the throttled node sets n. The node
// is seeded with n's value when it connects.
func (n *Node[T]) Throttle(d time.Duration, opts ...Option) *Node[T] {
	var (
		zero  T
		slot  timerSlot
		mu    sync.Mutex
		dirty bool
	)
	var trailing func(self *Node[T])
	trailing = func(self *Node[T]) {
		mu.Lock()
		emit := dirty
		dirty = false
		mu.Unlock()
		if !emit {
			return
		}
		slot.schedule(self.cfg.clock, d, func() { trailing(self) })
		self.Set(n.Get())
	}
	return derive(From(n), Derivation[T]{
		OnInit: func(self *Node[T]) {
			self.Set(n.Get())
		},
		Sync: func(self *Node[T]) {
			if slot.pending() {
				mu.Lock()
				dirty = true
				mu.Unlock()
				return
			}
			v := n.Get()
			if self.holds(v) {
				return
			}
			slot.schedule(self.cfg.clock, d, func() { trailing(self) })
			self.Set(v)
		},
		OnSet: func(v T, _ *Node[T]) {
			n.Set(v)
		},
		OnDispose: func(*Node[T]) {
			slot.cancel()
			mu.Lock()
			dirty = false
			mu.Unlock()
		},
	}, zero, &n.cfg, "throttle", opts)
}

// Delay derives a node that repeats every change of n d later. Delayed
// values are independent of each other; disconnecting drops the ones still
// pending.
func (n *Node[T]) Delay(d time.Duration, opts ...Option) *Node[T] {
	var (
		zero    T
		mu      sync.Mutex
		next    uint64
		pending = make(map[uint64]func() bool)
	)
	return derive(From(n), Derivation[T]{
		Sync: func(self *Node[T]) {
			v := n.Get()
			mu.Lock()
			next++
			id := next
			pending[id] = self.cfg.clock.AfterFunc(d, func() {
				mu.Lock()
				_, ok := pending[id]
				delete(pending, id)
				mu.Unlock()
				if ok {
					self.Set(v)
				}
			})
			mu.Unlock()
		},
		OnDispose: func(*Node[T]) {
			mu.Lock()
			for id, stop := range pending {
				stop()
				delete(pending, id)
			}
			mu.Unlock()
		},
	}, zero, &n.cfg, "delay", opts)
}

// holds reports whether the node's equality considers v equal to its value.
func (n *Node[T]) holds(v T) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.equals(n.value, v)
}

// timerSlot owns at most one pending timer. Scheduling replaces the pending
// timer; a timer that was replaced or cancelled never runs its callback.
type timerSlot struct {
	mu     sync.Mutex
	gen    uint64
	stop   func() bool
	closed bool
}

func (s *timerSlot) schedule(clock Clock, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.stop != nil {
		s.stop()
	}
	s.gen++
	gen := s.gen
	s.stop = clock.AfterFunc(d, func() {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.stop = nil
		s.mu.Unlock()
		fn()
	})
}

func (s *timerSlot) pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

func (s *timerSlot) cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	s.gen++
}

// close cancels the pending timer and refuses later schedules.
func (s *timerSlot) close() {
	s.cancel()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
