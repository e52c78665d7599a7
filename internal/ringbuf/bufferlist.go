package ringbuf

// BufferList is the per-(thread, session) ordered list of buffers,
// oldest-first. Only the head may be converted for reading; only the
// tail may still be writable.
type BufferList struct {
	buffers              []*Buffer
	bufferCount          int
	lastReadSequenceNum  uint32
}

// NewBufferList creates an empty buffer list.
func NewBufferList() *BufferList {
	return &BufferList{}
}

// Append adds a new buffer at the tail.
func (l *BufferList) Append(b *Buffer) {
	l.buffers = append(l.buffers, b)
	l.bufferCount++
}

// Head returns the oldest buffer, or nil if the list is empty.
func (l *BufferList) Head() *Buffer {
	if len(l.buffers) == 0 {
		return nil
	}
	return l.buffers[0]
}

// Tail returns the newest (current writer) buffer, or nil if empty.
func (l *BufferList) Tail() *Buffer {
	if len(l.buffers) == 0 {
		return nil
	}
	return l.buffers[len(l.buffers)-1]
}

// GetAndRemoveHead unlinks and returns the head buffer, or nil if empty.
func (l *BufferList) GetAndRemoveHead() *Buffer {
	if len(l.buffers) == 0 {
		return nil
	}
	b := l.buffers[0]
	l.buffers = l.buffers[1:]
	l.bufferCount--
	return b
}

// Count returns the number of buffers currently in the list.
func (l *BufferList) Count() int {
	return l.bufferCount
}

// LastReadSequenceNumber returns the last sequence number observed by
// the reader for this list.
func (l *BufferList) LastReadSequenceNumber() uint32 {
	return l.lastReadSequenceNum
}

// SetLastReadSequenceNumber records the last sequence number observed.
func (l *BufferList) SetLastReadSequenceNumber(n uint32) {
	l.lastReadSequenceNum = n
}

// CheckIntegrity walks the list and verifies the invariants a checked
// build asserts: accurate count, and that only the tail may be
// Writable.
func (l *BufferList) CheckIntegrity() bool {
	if len(l.buffers) != l.bufferCount {
		return false
	}
	for i, b := range l.buffers {
		if i != len(l.buffers)-1 && b.State() != StateReadOnly {
			return false
		}
	}
	return true
}
