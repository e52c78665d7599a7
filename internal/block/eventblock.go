package block

import (
	"encoding/binary"

	"github.com/ehrlich-b/eventpipe/internal/ringbuf"
	"github.com/ehrlich-b/eventpipe/internal/varint"
)

// EventBlock accumulates event records for one drain quantum.
type EventBlock struct {
	baseEventBlock
}

// NewEventBlock creates an empty EventBlock for the given wire format.
// Header compression is only meaningful (and only used) in V4.
func NewEventBlock(format Format) *EventBlock {
	return &EventBlock{baseEventBlock: newBaseEventBlock(format, format == FormatNetTraceV4)}
}

// notSortedBit is ORed into the uncompressed metadata_id field's high
// bit when the event is not the first ("sorted") event from its thread
// in this drain quantum.
const notSortedBit uint32 = 1 << 31

// WriteEvent appends one event record to the block.
//
//   - rec.SequenceNumber, rec.ThreadID, rec.CaptureThreadID, rec.ProcNum,
//     rec.Timestamp, rec.ActivityID, rec.RelatedActivityID, rec.Payload
//     come from the buffer record as written by the producer.
//   - stackID is the interned per-session stack-hash id (0 if none).
//   - isSortedEvent marks the first event emitted from this thread in
//     the current drain window.
func (b *EventBlock) WriteEvent(rec *ringbuf.Record, stackID uint32, isSortedEvent bool) bool {
	if b.compression {
		b.writeCompressed(rec, stackID, isSortedEvent)
	} else {
		b.writeUncompressed(rec, stackID, isSortedEvent)
	}
	b.updateMinMax(rec.Timestamp)
	return true
}

func (b *EventBlock) writeUncompressed(rec *ringbuf.Record, stackID uint32, isSortedEvent bool) {
	metadataID := rec.MetadataID
	if !isSortedEvent {
		metadataID |= notSortedBit
	}

	var buf []byte
	buf = appendU32(buf, 0) // placeholder total_size, patched below
	buf = appendU32(buf, metadataID)
	if b.format == FormatNetTraceV4 {
		buf = appendU32(buf, rec.SequenceNumber)
		buf = appendU64(buf, rec.ThreadID)
		buf = appendU64(buf, rec.CaptureThreadID)
		buf = appendU32(buf, rec.ProcNum)
		buf = appendU32(buf, stackID)
	}
	buf = appendI64(buf, rec.Timestamp)
	buf = append(buf, rec.ActivityID[:]...)
	buf = append(buf, rec.RelatedActivityID[:]...)
	buf = appendU32(buf, uint32(len(rec.Payload)))
	buf = append(buf, rec.Payload...)
	if b.format == FormatNetPerfV3 {
		buf = appendU32(buf, uint32(len(rec.StackIDs)*8))
		for _, id := range rec.StackIDs {
			buf = appendU64(buf, id)
		}
	}

	total := len(buf)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))

	pad := padTo4(len(buf))
	buf = append(buf, make([]byte, pad)...)

	b.data = append(b.data, buf...)
}

func (b *EventBlock) writeCompressed(rec *ringbuf.Record, stackID uint32, isSortedEvent bool) {
	last := &b.last
	var flags byte
	var fieldBuf [varint.MaxVarintLen64]byte

	var out []byte
	flagPos := len(out) // placeholder, patched after fields known
	out = append(out, 0)

	if !last.valid || rec.MetadataID != last.metadataID {
		flags |= 1 << 0
		n := varint.PutUint32(fieldBuf[:], rec.MetadataID)
		out = append(out, fieldBuf[:n]...)
	}

	expectedSeq := last.sequenceNumber
	if rec.MetadataID != 0 {
		expectedSeq++
	}
	seqChanged := !last.valid || expectedSeq != rec.SequenceNumber
	threadMetaChanged := !last.valid || rec.CaptureThreadID != last.captureThreadID || rec.ProcNum != last.procNumber
	if seqChanged || threadMetaChanged {
		flags |= 1 << 1
		delta := rec.SequenceNumber - expectedSeq
		n := varint.PutUint32(fieldBuf[:], delta)
		out = append(out, fieldBuf[:n]...)
		n = varint.PutUint64(fieldBuf[:], rec.CaptureThreadID)
		out = append(out, fieldBuf[:n]...)
		n = varint.PutUint32(fieldBuf[:], rec.ProcNum)
		out = append(out, fieldBuf[:n]...)
	}

	if !last.valid || rec.ThreadID != last.threadID {
		flags |= 1 << 2
		n := varint.PutUint64(fieldBuf[:], rec.ThreadID)
		out = append(out, fieldBuf[:n]...)
	}

	if !last.valid || stackID != last.stackID {
		flags |= 1 << 3
		n := varint.PutUint32(fieldBuf[:], stackID)
		out = append(out, fieldBuf[:n]...)
	}

	var tsDelta int64
	if last.valid {
		tsDelta = rec.Timestamp - last.timestamp
	} else {
		tsDelta = rec.Timestamp
	}
	n := varint.PutUint64(fieldBuf[:], uint64(tsDelta))
	out = append(out, fieldBuf[:n]...)

	if !last.valid || rec.ActivityID != last.activityID {
		flags |= 1 << 4
		out = append(out, rec.ActivityID[:]...)
	}

	if !last.valid || rec.RelatedActivityID != last.relatedActivityID {
		flags |= 1 << 5
		out = append(out, rec.RelatedActivityID[:]...)
	}

	if isSortedEvent {
		flags |= 1 << 6
	}

	dataLen := uint32(len(rec.Payload))
	if !last.valid || dataLen != last.dataLen {
		flags |= 1 << 7
		n = varint.PutUint32(fieldBuf[:], dataLen)
		out = append(out, fieldBuf[:n]...)
	}
	out = append(out, rec.Payload...)

	out[flagPos] = flags

	b.data = append(b.data, out...)

	*last = compressedHeader{
		valid:             true,
		metadataID:        rec.MetadataID,
		sequenceNumber:    rec.SequenceNumber,
		threadID:          rec.ThreadID,
		captureThreadID:   rec.CaptureThreadID,
		procNumber:        rec.ProcNum,
		stackID:           stackID,
		activityID:        rec.ActivityID,
		relatedActivityID: rec.RelatedActivityID,
		timestamp:         rec.Timestamp,
		dataLen:           dataLen,
	}
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendI64(b []byte, v int64) []byte {
	return appendU64(b, uint64(v))
}
