package block

import "encoding/binary"

// StackBlock accumulates interned call-stack records for one drain
// quantum. Header: u32 initial_stack_id, u32 count.
type StackBlock struct {
	data         []byte
	initialID    uint32
	count        uint32
	haveInitial  bool
}

// NewStackBlock creates an empty StackBlock.
func NewStackBlock() *StackBlock {
	return &StackBlock{}
}

// Clear resets the block to empty.
func (b *StackBlock) Clear() {
	b.data = b.data[:0]
	b.count = 0
	b.haveInitial = false
}

// WriteStack appends one interned stack: stack_size(u32) | stack_bytes.
func (b *StackBlock) WriteStack(id uint32, stackIPs []uint64) bool {
	if !b.haveInitial {
		b.initialID = id
		b.haveInitial = true
	}
	stackBytes := make([]byte, len(stackIPs)*8)
	for i, ip := range stackIPs {
		binary.LittleEndian.PutUint64(stackBytes[i*8:i*8+8], ip)
	}
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(stackBytes)))
	b.data = append(b.data, sizeBuf[:]...)
	b.data = append(b.data, stackBytes...)
	b.count++
	return true
}

// Len reports the number of accumulated payload bytes.
func (b *StackBlock) Len() int {
	return len(b.data)
}

// Count returns the number of interned stacks accumulated so far.
func (b *StackBlock) Count() uint32 {
	return b.count
}

func (b *StackBlock) header() []byte {
	h := make([]byte, 8)
	binary.LittleEndian.PutUint32(h[0:4], b.initialID)
	binary.LittleEndian.PutUint32(h[4:8], b.count)
	return h
}

// TotalSize returns header_size + data_size.
func (b *StackBlock) TotalSize() int {
	return 8 + len(b.data)
}

// HeaderAndData returns header followed by accumulated stack data, with
// no length prefix or alignment padding (see baseEventBlock.HeaderAndData).
func (b *StackBlock) HeaderAndData() []byte {
	out := make([]byte, 0, b.TotalSize())
	out = append(out, b.header()...)
	out = append(out, b.data...)
	return out
}

// Serialize writes total_size(u32) | padding | header | data assuming
// the block starts at a 4-byte-aligned stream offset.
func (b *StackBlock) Serialize() []byte {
	h := b.header()
	total := len(h) + len(b.data)
	pad := padTo4(4) // from an aligned start, the u32 prefix keeps the body aligned

	out := make([]byte, 0, 4+pad+total)
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(total))
	out = append(out, sizeBuf[:]...)
	out = append(out, make([]byte, pad)...)
	out = append(out, h...)
	out = append(out, b.data...)
	return out
}
