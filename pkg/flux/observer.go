package flux

import "time"

// Observer receives node lifecycle events. Implementations must be safe for
// concurrent use and must not call back into the node that reported the event.
type Observer interface {
	// ValueSet is called after a value was stored (equal values are skipped).
	ValueSet(node string)

	// Notified is called after a notify cycle finished.
	Notified(node string, listeners int, elapsed time.Duration)

	// ErrorSet is called when an error is put on the error channel.
	ErrorSet(node string, err error)

	// Connected is called when a derived node opens its upstream connection.
	Connected(node string)

	// Disconnected is called when a derived node closes its upstream connection.
	Disconnected(node string)

	// ListenerPanicked is called when a listener panic was recovered.
	ListenerPanicked(node string, recovered any)
}

type nopObserver struct{}

func (nopObserver) ValueSet(string) {}
func (nopObserver) Notified(string, int, time.Duration) {}
func (nopObserver) ErrorSet(string, error) {}
func (nopObserver) Connected(string) {}
func (nopObserver) Disconnected(string) {}
func (nopObserver) ListenerPanicked(string, any) {}
