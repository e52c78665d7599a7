//go:build !linux

package clock

import (
	"sync/atomic"
)

var fallbackCounter uint64

// threadID on platforms without gettid returns the next value of a
// process-wide counter: every call yields a new, distinct id. The id is
// stable only because callers capture it once (threadreg.NewThread does
// so per Thread); it does not identify the calling OS thread.
func threadID() uint64 {
	return atomic.AddUint64(&fallbackCounter, 1)
}
