package testutil

import (
	"testing"
	"time"
)

// WaitFor polls check every 10ms until it returns true or timeout is reached.
func WaitFor(t *testing.T, timeout time.Duration, check func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

// WaitForListCount polls until the provider's ListTargets has been called
// at least n times, indicating a loop has completed that many cycles.
func WaitForListCount(t *testing.T, prov *MockProvider, n int64, timeout time.Duration) {
	t.Helper()
	WaitFor(t, timeout, func() bool {
		return prov.ListCount() >= n
	}, "target list count >= n")
}
