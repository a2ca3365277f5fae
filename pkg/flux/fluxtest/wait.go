package fluxtest

import (
	"testing"
	"time"
)

// EventuallyTimeout bounds Eventually.
var EventuallyTimeout = 2 * time.Second

// Eventually polls cond until it returns true and fails the test when
// EventuallyTimeout passes first. Use it for effects that run on background
// goroutines, such as async maps and store writes.
func Eventually(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(EventuallyTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
