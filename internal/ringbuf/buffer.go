// Package ringbuf implements the per-(thread, session) write buffer and
// its ordered list, the leaf data structures the buffer manager
// allocates, fills, and drains.
package ringbuf

import (
	"encoding/binary"
	"sync/atomic"
)

// GuardLevel controls how aggressively a Buffer verifies its own
// integrity. None disables all guard bytes; Header writes the
// header/footer magics and re-checks them on every write; ReadOnlyPages
// additionally marks converted buffers read-only (not implemented on
// all platforms, treated as Header here since Go offers no portable
// mprotect wrapper worth the complexity for a tracing buffer).
type GuardLevel int

const (
	GuardNone GuardLevel = iota
	GuardHeader
	GuardReadOnlyPages
)

// State is a Buffer's one-way lifecycle state.
type State int32

const (
	StateWritable State = iota
	StateReadOnly
)

const (
	headerMagic = "EPBFSTRT"
	footerMagic = "EPBFEND!"
	footerSalt  = "EPBFSALT"
	headerSize  = 32
	footerSize  = 32
	recordAlign = 8
)

// Buffer is a fixed-size memory region written by exactly one producer
// thread in one session, later converted read-only for a reader.
type Buffer struct {
	state State

	creationTimestamp      int64
	writerThreadID         uint64
	firstEventSequenceNum  uint32
	guard                  GuardLevel

	data []byte // full allocation, header+payload+footer

	firstEventOffset int // offset of first event record, 8-byte aligned past header
	writeOffset      int // next write position
	writeLimit       int // limit - footer size
	limit            int // len(data)

	currentReadOffset int // reader cursor; -1 means no current event

	pool *Pool // non-nil if data was drawn from a Pool
}

// NewBuffer allocates a zero-filled buffer of the given size (rounded up
// to recordAlign by the caller) for writerThreadID, starting sequence
// numbers at initialSeq.
func NewBuffer(size int, writerThreadID uint64, initialSeq uint32, guard GuardLevel, creationTimestamp int64) *Buffer {
	return newBuffer(make([]byte, size), writerThreadID, initialSeq, guard, creationTimestamp)
}

// NewPooledBuffer is identical to NewBuffer but draws its backing array
// from pool, avoiding a fresh allocation on the hot allocation path.
// The caller must return the buffer's backing array to the pool (via
// Buffer.Release) once it is reclaimed by the budget.
func NewPooledBuffer(pool *Pool, size int, writerThreadID uint64, initialSeq uint32, guard GuardLevel, creationTimestamp int64) *Buffer {
	b := newBuffer(pool.Get(size), writerThreadID, initialSeq, guard, creationTimestamp)
	b.pool = pool
	return b
}

// Release returns a pooled buffer's backing array to its pool. No-op if
// the buffer was not drawn from a pool.
func (b *Buffer) Release() {
	if b.pool != nil {
		b.pool.Put(b.data)
		b.data = nil
		b.pool = nil
	}
}

func newBuffer(data []byte, writerThreadID uint64, initialSeq uint32, guard GuardLevel, creationTimestamp int64) *Buffer {
	size := len(data)
	b := &Buffer{
		state:                 StateWritable,
		creationTimestamp:     creationTimestamp,
		writerThreadID:        writerThreadID,
		firstEventSequenceNum: initialSeq,
		guard:                 guard,
		data:                  data,
		currentReadOffset:     -1,
	}

	headerLen := 0
	footerLen := 0
	if guard != GuardNone {
		headerLen = headerSize
		footerLen = footerSize
	}

	b.firstEventOffset = align8(headerLen)
	b.writeOffset = b.firstEventOffset
	b.limit = size
	b.writeLimit = size - footerLen

	if guard != GuardNone {
		b.writeHeader()
		b.writeFooter()
	}

	return b
}

func align8(n int) int {
	return (n + 7) &^ 7
}

func (b *Buffer) writeHeader() {
	h := b.data[:headerSize]
	copy(h[0:8], headerMagic)
	binary.LittleEndian.PutUint64(h[8:16], uint64(b.creationTimestamp))
	binary.LittleEndian.PutUint64(h[16:24], b.writerThreadID)
	binary.LittleEndian.PutUint32(h[24:28], b.firstEventSequenceNum)
	// h[28:32] zero padding
}

func (b *Buffer) writeFooter() {
	f := b.data[b.limit-footerSize : b.limit]
	copy(f[0:8], footerMagic)
	for i := 0; i < 8; i++ {
		f[8+i] = ^footerMagic[i]
	}
	checksum := uint64(b.creationTimestamp) ^ b.writerThreadID ^ uint64(b.firstEventSequenceNum) ^ salt()
	binary.LittleEndian.PutUint64(f[16:24], checksum)
	for i := 24; i < 32; i++ {
		f[i] = 0xEB
	}
}

func salt() uint64 {
	var s uint64
	for i := 0; i < 8; i++ {
		s = s<<8 | uint64(footerSalt[i])
	}
	return s
}

// CheckIntegrity verifies the header/footer magics when guards are
// enabled. Invariant violations are the caller's responsibility to
// treat as panics in checked builds per the error-handling policy.
func (b *Buffer) CheckIntegrity() bool {
	if b.guard == GuardNone {
		return true
	}
	h := b.data[:headerSize]
	if string(h[0:8]) != headerMagic {
		return false
	}
	f := b.data[b.limit-footerSize : b.limit]
	if string(f[0:8]) != footerMagic {
		return false
	}
	for i := 0; i < 8; i++ {
		if f[8+i] != ^footerMagic[i] {
			return false
		}
	}
	return true
}

// State returns the buffer's current lifecycle state.
func (b *Buffer) State() State {
	return State(atomic.LoadInt32((*int32)(&b.state)))
}

// Size returns the total allocation size in bytes.
func (b *Buffer) Size() int {
	return b.limit
}

// WriterThreadID returns the OS thread id of the buffer's writer.
func (b *Buffer) WriterThreadID() uint64 {
	return b.writerThreadID
}

// Record is one EventInstance as flattened into a buffer.
type Record struct {
	ActivityID        [16]byte
	RelatedActivityID [16]byte
	ThreadID          uint64
	Timestamp         int64
	MetadataID        uint32
	CaptureThreadID   uint64
	ProcNum           uint32
	SequenceNumber    uint32
	StackIDs          []uint64
	Payload           []byte
}

// encodedLen returns the size of the flattened, 8-byte-aligned byte
// representation of the record as stored in the buffer: EventInstance
// fields followed by flattened stack bytes followed by payload bytes.
func (r *Record) encodedLen() int {
	n := 16 + 16 + 8 + 8 + 4 + 8 + 4 + 4 + 4 + len(r.StackIDs)*8 + 4 + len(r.Payload)
	return align8(n)
}

// WriteEvent appends a record to the buffer. Returns false if the
// record would not fit before writeLimit, in which case the caller
// must retire this buffer and allocate a new one. Must be called while
// holding the producing thread's lock.
func (b *Buffer) WriteEvent(r *Record) bool {
	if b.State() != StateWritable {
		return false
	}
	size := r.encodedLen()
	if b.writeOffset+size > b.writeLimit {
		return false
	}

	buf := b.data[b.writeOffset : b.writeOffset+size]
	off := 0
	copy(buf[off:off+16], r.ActivityID[:])
	off += 16
	copy(buf[off:off+16], r.RelatedActivityID[:])
	off += 16
	binary.LittleEndian.PutUint64(buf[off:off+8], r.ThreadID)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(r.Timestamp))
	off += 8
	binary.LittleEndian.PutUint32(buf[off:off+4], r.MetadataID)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:off+8], r.CaptureThreadID)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:off+4], r.ProcNum)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], r.SequenceNumber)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(r.StackIDs)))
	off += 4
	for _, id := range r.StackIDs {
		binary.LittleEndian.PutUint64(buf[off:off+8], id)
		off += 8
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(r.Payload)))
	off += 4
	copy(buf[off:off+len(r.Payload)], r.Payload)

	b.writeOffset += size

	if b.guard != GuardNone && !b.CheckIntegrity() {
		return false
	}
	return true
}

// ConvertToReadOnly flips the buffer to ReadOnly and resets the reader
// cursor to the first event (or none, if the buffer is empty).
func (b *Buffer) ConvertToReadOnly() {
	atomic.StoreInt32((*int32)(&b.state), int32(StateReadOnly))
	if b.firstEventOffset >= b.writeOffset {
		b.currentReadOffset = -1
	} else {
		b.currentReadOffset = b.firstEventOffset
	}
}

// HasCurrentEvent reports whether the reader cursor points at a valid event.
func (b *Buffer) HasCurrentEvent() bool {
	return b.currentReadOffset >= 0 && b.currentReadOffset < b.writeOffset
}

// CurrentEvent decodes the record at the reader cursor.
func (b *Buffer) CurrentEvent() *Record {
	if !b.HasCurrentEvent() {
		return nil
	}
	buf := b.data[b.currentReadOffset:b.writeOffset]
	r := &Record{}
	off := 0
	copy(r.ActivityID[:], buf[off:off+16])
	off += 16
	copy(r.RelatedActivityID[:], buf[off:off+16])
	off += 16
	r.ThreadID = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	r.Timestamp = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8
	r.MetadataID = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	r.CaptureThreadID = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	r.ProcNum = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	r.SequenceNumber = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	stackCount := binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	if stackCount > 0 {
		r.StackIDs = make([]uint64, stackCount)
		for i := range r.StackIDs {
			r.StackIDs[i] = binary.LittleEndian.Uint64(buf[off : off+8])
			off += 8
		}
	}
	dataLen := binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	r.Payload = append([]byte(nil), buf[off:off+int(dataLen)]...)
	return r
}

// MoveNextReadEvent advances the reader cursor past the current record.
func (b *Buffer) MoveNextReadEvent() {
	if !b.HasCurrentEvent() {
		b.currentReadOffset = -1
		return
	}
	cur := b.CurrentEvent()
	b.currentReadOffset += cur.encodedLen()
	if b.currentReadOffset >= b.writeOffset {
		b.currentReadOffset = -1
	}
}

// CurrentEventTimestamp is a cheap peek used by the manager's heap
// without a full decode.
func (b *Buffer) CurrentEventTimestamp() (int64, bool) {
	if !b.HasCurrentEvent() {
		return 0, false
	}
	ts := int64(binary.LittleEndian.Uint64(b.data[b.currentReadOffset+40 : b.currentReadOffset+48]))
	return ts, true
}
