// Package activity mints the opaque 16-byte activity ids propagated with
// every event.
package activity

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// ID is an opaque 16-byte activity identifier.
type ID [16]byte

// Zero is the nil activity id, used for related_activity_id when a
// caller does not participate in an activity chain.
var Zero ID

var counter uint64

// New mints a fresh, process-wide-unique activity id. The original
// implementation mixes a thread-local counter into a GUID-shaped seed;
// this mixes an atomic counter into a random v4 UUID's low 8 bytes so
// ids are unique across both time and concurrent callers without a
// shared lock.
func New() ID {
	u := uuid.New()
	var id ID
	copy(id[:8], u[:8])
	n := atomic.AddUint64(&counter, 1)
	id[8] = byte(n)
	id[9] = byte(n >> 8)
	id[10] = byte(n >> 16)
	id[11] = byte(n >> 24)
	id[12] = byte(n >> 32)
	id[13] = byte(n >> 40)
	id[14] = byte(n >> 48)
	id[15] = byte(n >> 56)
	return id
}

// IsZero reports whether id is the nil activity id.
func (id ID) IsZero() bool {
	return id == Zero
}
