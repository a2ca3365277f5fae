package flux

import "time"

// Clock schedules callbacks for the timing combinators (Debounce, Throttle,
// Delay, Ticker). Callbacks may run on any goroutine.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc runs fn once after d. The returned stop function cancels the
	// call and reports whether it did so before fn started.
	AfterFunc(d time.Duration, fn func()) (stop func() bool)
}

type systemClock struct{}

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}
