package persist

import "time"

// Observer receives persistence events. Implementations must be safe for
// concurrent use.
type Observer interface {
	// Loaded is called when the initial load of key finished. found reports
	// whether the store held a value.
	Loaded(key string, found bool, elapsed time.Duration)

	// Saved is called after size bytes were written for key.
	Saved(key string, size int, elapsed time.Duration)

	// Failed is called when op ("load", "decode", "validate", "encode",
	// "save" or "delete") failed for key.
	Failed(key, op string, err error)
}

type nopObserver struct{}

func (nopObserver) Loaded(string, bool, time.Duration) {}
func (nopObserver) Saved(string, int, time.Duration)   {}
func (nopObserver) Failed(string, string, error)       {}
