// Package flux implements observable values.
//
// A source node holds a value set by producer code:
//
//	count := flux.New(0, flux.WithName("count"))
//	off := count.On(func(v int) { fmt.Println("count:", v) })
//	count.Set(1) // prints "count: 1"
//	count.Set(1) // equal value, nothing happens
//	off()
//
// A derived node (pipe) computes its value from an upstream node or event
// source. Pipes are lazy: they connect to their upstream when they get their
// first listener and disconnect when they lose their last one, releasing any
// timer or goroutine they own.
//
//	label := flux.Map(count, strconv.Itoa)
//	slow := count.Debounce(200 * time.Millisecond)
//	total := flux.Scan(count, func(acc, v int) int { return acc + v }, 0)
//
// Notification is synchronous and depth-first: Set returns after every
// listener, and every listener of every pipe it reached, has run. Listeners
// are called in subscription order from a snapshot taken when the
// notification starts. Node methods are safe for concurrent use; timing
// combinators and MapAsync call back from their own goroutines.
//
// Each node also has an error channel, separate from its value. Pipes put
// conversion errors and panics there and keep their last good value. A later
// Set does not clear the error; use ClearError.
package flux
