package block

import "encoding/binary"

// SequencePointEntry is one (thread, sequence number) pair recorded in
// a SequencePointBlock.
type SequencePointEntry struct {
	ThreadOSID     uint64
	SequenceNumber uint32
}

// SequencePointBlock has no header beyond the generic length prefix.
// Payload: timestamp(i64) | thread_count(u32) | thread_count entries.
type SequencePointBlock struct {
	data []byte
}

// NewSequencePointBlock builds a SequencePointBlock for the given
// timestamp and thread/sequence-number snapshot.
func NewSequencePointBlock(timestamp int64, entries []SequencePointEntry) *SequencePointBlock {
	b := &SequencePointBlock{}
	var buf []byte
	buf = appendI64(buf, timestamp)
	buf = appendU32(buf, uint32(len(entries)))
	for _, e := range entries {
		buf = appendU64(buf, e.ThreadOSID)
		buf = appendU32(buf, e.SequenceNumber)
	}
	b.data = buf
	return b
}

// TotalSize returns the payload size (this block type has no header).
func (b *SequencePointBlock) TotalSize() int {
	return len(b.data)
}

// Data returns the raw payload, with no length prefix or alignment
// padding (see baseEventBlock.HeaderAndData).
func (b *SequencePointBlock) Data() []byte {
	return b.data
}

// Serialize writes total_size(u32) | padding | data (no type-specific
// header for this block type), assuming the block starts at a
// 4-byte-aligned stream offset.
func (b *SequencePointBlock) Serialize() []byte {
	total := len(b.data)
	pad := padTo4(4) // from an aligned start, the u32 prefix keeps the body aligned

	out := make([]byte, 0, 4+pad+total)
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(total))
	out = append(out, sizeBuf[:]...)
	out = append(out, make([]byte, pad)...)
	out = append(out, b.data...)
	return out
}
