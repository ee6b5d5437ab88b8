package goroutine

import (
	"runtime"
	"testing"
	"time"
)

// AssertNoLeaks registers a cleanup that fails the test if the goroutine
// count has not returned to its starting value within five seconds.
// Call it first thing in tests that start background loops.
func AssertNoLeaks(t *testing.T) {
	t.Helper()
	before := runtime.NumGoroutine()

	t.Cleanup(func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if runtime.NumGoroutine() <= before {
				return
			}
			time.Sleep(50 * time.Millisecond)
		}

		current := runtime.NumGoroutine()
		if current > before {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			t.Errorf("goroutine leak detected: started with %d goroutines, ended with %d", before, current)
			t.Logf("Active goroutines:\n%s", string(buf[:n]))
		}
	})
}
