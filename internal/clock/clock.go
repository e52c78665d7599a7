// Package clock provides the monotonic timestamp and thread/process id
// sources used throughout the tracing engine.
//
// The original EventPipe queries the host's QueryPerformanceCounter and
// QueryPerformanceFrequency; this port uses time.Now()'s monotonic
// reading with a fixed frequency of one tick per nanosecond, which
// satisfies every contract the core relies on (monotonic, comparable,
// convertible to wall-clock time) without depending on a platform timer.
package clock

import (
	"time"

	"golang.org/x/sys/unix"
)

// Frequency is the number of clock ticks per second.
const Frequency int64 = 1_000_000_000

var processStart = time.Now()

// Timestamp is an opaque, monotonically non-decreasing tick count.
type Timestamp int64

// Now returns the current timestamp.
func Now() Timestamp {
	return Timestamp(time.Since(processStart).Nanoseconds())
}

// Sub returns the number of ticks between two timestamps (a - b).
func (a Timestamp) Sub(b Timestamp) int64 {
	return int64(a) - int64(b)
}

// WallClock converts a timestamp captured via Now into an absolute time.
func WallClock(ts Timestamp) time.Time {
	return processStart.Add(time.Duration(ts))
}

// ThreadID returns an OS-level identifier for the calling goroutine's
// current thread. On Linux this is the kernel tid (gettid); elsewhere it
// returns a fresh process-unique counter value on every call, since Go
// does not expose a stable OS thread id.
func ThreadID() uint64 {
	return threadID()
}

// ProcessID returns the current process id.
func ProcessID() uint32 {
	return uint32(unix.Getpid())
}

// NumCPU-equivalent processor number used for EventInstance.ProcNum.
// The original queries the scheduler's current processor; Go offers no
// portable equivalent, so this returns 0. Sessions that care about CPU
// affinity are expected to run on platforms where GOMAXPROCS pinning
// makes this meaningful to the caller, not the core.
func ProcNum() uint32 {
	return 0
}
