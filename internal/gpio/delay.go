package gpio

import (
	"runtime"
	"time"
)

// BusyDelay spins on the monotonic clock. Scheduler sleeps overshoot by tens
// of microseconds, which is longer than the trigger pulse itself.
type BusyDelay struct{}

// DelayMicroseconds blocks for at least us microseconds.
func (BusyDelay) DelayMicroseconds(us uint32) {
	d := time.Duration(us) * time.Microsecond
	start := time.Now()
	for time.Since(start) < d {
		if d > time.Millisecond {
			runtime.Gosched()
		}
	}
}
