// Package block implements the block-oriented, length-prefixed
// serializer: EventBlock, MetadataBlock, StackBlock, and
// SequencePointBlock, including header-compression for repeated event
// fields.
package block

import (
	"encoding/binary"
)

// Format selects between the legacy total-sort V3 wire layout and the
// sequence-point-bounded V4 layout.
type Format int

const (
	FormatNetPerfV3 Format = iota
	FormatNetTraceV4
)

func align4(n int) int {
	return (n + 3) &^ 3
}

// padTo4 returns the number of zero bytes needed to bring n to a
// 4-byte boundary.
func padTo4(n int) int {
	return align4(n) - n
}

// eventHeaderSize is the V4 EventBlock/MetadataBlock shared header:
// u16 header_size, u16 flags, i64 min_timestamp, i64 max_timestamp.
const eventHeaderSize = 2 + 2 + 8 + 8

const (
	flagHeaderCompression uint16 = 1 << 0
)

// baseEventBlock is the shared accumulator behind EventBlock and
// MetadataBlock: both frame the same header and append the same
// per-event record encoding.
type baseEventBlock struct {
	format      Format
	compression bool

	data []byte

	minTimestamp int64
	maxTimestamp int64
	hasEvents    bool

	last compressedHeader
}

type compressedHeader struct {
	valid             bool
	metadataID        uint32
	sequenceNumber    uint32
	threadID          uint64
	captureThreadID   uint64
	procNumber        uint32
	stackID           uint32
	activityID        [16]byte
	relatedActivityID [16]byte
	timestamp         int64
	dataLen           uint32
}

func newBaseEventBlock(format Format, compression bool) baseEventBlock {
	return baseEventBlock{format: format, compression: compression}
}

// Clear resets the block to empty, ready to accumulate a new batch.
func (b *baseEventBlock) Clear() {
	b.data = b.data[:0]
	b.minTimestamp = 0
	b.maxTimestamp = 0
	b.hasEvents = false
	b.last = compressedHeader{}
}

// Len returns the number of accumulated payload bytes (excluding the
// block header).
func (b *baseEventBlock) Len() int {
	return len(b.data)
}

func (b *baseEventBlock) updateMinMax(ts int64) {
	if !b.hasEvents {
		b.minTimestamp = ts
		b.maxTimestamp = ts
		b.hasEvents = true
		return
	}
	if ts < b.minTimestamp {
		b.minTimestamp = ts
	}
	if ts > b.maxTimestamp {
		b.maxTimestamp = ts
	}
}

// header returns the serialized shared EventBlock/MetadataBlock header.
func (b *baseEventBlock) header() []byte {
	h := make([]byte, eventHeaderSize)
	binary.LittleEndian.PutUint16(h[0:2], uint16(eventHeaderSize))
	var flags uint16
	if b.compression {
		flags |= flagHeaderCompression
	}
	binary.LittleEndian.PutUint16(h[2:4], flags)
	binary.LittleEndian.PutUint64(h[4:12], uint64(b.minTimestamp))
	binary.LittleEndian.PutUint64(h[12:20], uint64(b.maxTimestamp))
	return h
}

// TotalSize returns header_size + data_size, the value written as the
// block's leading u32 length prefix.
func (b *baseEventBlock) TotalSize() int {
	return eventHeaderSize + len(b.data)
}

// HeaderAndData returns the header followed by accumulated event data,
// with no length prefix or alignment padding — the caller (the fast
// serializer, which knows the live stream position) is responsible for
// writing the u32 total size and the alignment padding immediately
// before this.
func (b *baseEventBlock) HeaderAndData() []byte {
	out := make([]byte, 0, b.TotalSize())
	out = append(out, b.header()...)
	out = append(out, b.data...)
	return out
}

// Serialize writes total_size(u32) | padding | header | data assuming
// the block starts at a 4-byte-aligned stream offset. This is a
// self-contained convenience for standalone tests; production writes
// go through HeaderAndData/TotalSize so padding is computed from the
// live serializer's actual position.
func (b *baseEventBlock) Serialize() []byte {
	h := b.header()
	total := len(h) + len(b.data)
	pad := padTo4(4) // from an aligned start, the u32 prefix keeps the body aligned

	out := make([]byte, 0, 4+pad+total)
	sizeBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(sizeBuf, uint32(total))
	out = append(out, sizeBuf...)
	out = append(out, make([]byte, pad)...)
	out = append(out, h...)
	out = append(out, b.data...)
	return out
}
