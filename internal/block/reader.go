package block

import (
	"encoding/binary"
	"errors"

	"github.com/ehrlich-b/eventpipe/internal/varint"
)

// ErrTruncated is returned when a block's data ends mid-record.
var ErrTruncated = errors.New("block: truncated record")

// DecodedEvent is one event or metadata record recovered from an
// EventBlock's or MetadataBlock's data, the mirror image of
// ringbuf.Record as written by EventBlock.WriteEvent.
type DecodedEvent struct {
	MetadataID        uint32
	SequenceNumber    uint32
	ThreadID          uint64
	CaptureThreadID   uint64
	ProcNumber        uint32
	StackID           uint32
	Timestamp         int64
	ActivityID        [16]byte
	RelatedActivityID [16]byte
	Payload           []byte
	IsSorted          bool
}

// Header is the decoded shared EventBlock/MetadataBlock header.
type Header struct {
	HeaderSize   uint16
	Compressed   bool
	MinTimestamp int64
	MaxTimestamp int64
}

// DecodeHeader reads the eventHeaderSize-byte shared header from the
// front of a block's HeaderAndData bytes.
func DecodeHeader(data []byte) (Header, []byte, error) {
	if len(data) < eventHeaderSize {
		return Header{}, nil, ErrTruncated
	}
	h := Header{
		HeaderSize:   binary.LittleEndian.Uint16(data[0:2]),
		Compressed:   binary.LittleEndian.Uint16(data[2:4])&flagHeaderCompression != 0,
		MinTimestamp: int64(binary.LittleEndian.Uint64(data[4:12])),
		MaxTimestamp: int64(binary.LittleEndian.Uint64(data[12:20])),
	}
	return h, data[eventHeaderSize:], nil
}

// DecodeEvents decodes every record in an EventBlock's or
// MetadataBlock's data section (the bytes DecodeHeader returned after
// stripping the shared header), reversing writeCompressed's
// header-compression encoding record by record. Uncompressed (V3)
// decode is not implemented and returns an error, although V3 sessions
// (eptrace record --v3) write their EventBlocks in that layout.
func DecodeEvents(data []byte, compressed bool) ([]DecodedEvent, error) {
	if !compressed {
		return nil, errors.New("block: uncompressed record decode not implemented")
	}

	var out []DecodedEvent
	var last compressedHeader

	for len(data) > 0 {
		if len(data) < 1 {
			return out, ErrTruncated
		}
		flags := data[0]
		data = data[1:]

		rec := DecodedEvent{}
		if last.valid {
			rec = DecodedEvent{
				MetadataID:        last.metadataID,
				SequenceNumber:    last.sequenceNumber,
				ThreadID:          last.threadID,
				CaptureThreadID:   last.captureThreadID,
				ProcNumber:        last.procNumber,
				StackID:           last.stackID,
				ActivityID:        last.activityID,
				RelatedActivityID: last.relatedActivityID,
			}
		}

		if flags&(1<<0) != 0 {
			v, n := varint.Uint32(data)
			if n == 0 {
				return out, ErrTruncated
			}
			rec.MetadataID = v
			data = data[n:]
		}

		expectedSeq := last.sequenceNumber
		if rec.MetadataID != 0 {
			expectedSeq++
		}
		rec.SequenceNumber = expectedSeq
		if flags&(1<<1) != 0 {
			delta, n := varint.Uint32(data)
			if n == 0 {
				return out, ErrTruncated
			}
			data = data[n:]
			rec.SequenceNumber = expectedSeq + delta
			ct, n := varint.Uint64(data)
			if n == 0 {
				return out, ErrTruncated
			}
			data = data[n:]
			rec.CaptureThreadID = ct
			pn, n := varint.Uint32(data)
			if n == 0 {
				return out, ErrTruncated
			}
			data = data[n:]
			rec.ProcNumber = pn
		}

		if flags&(1<<2) != 0 {
			tid, n := varint.Uint64(data)
			if n == 0 {
				return out, ErrTruncated
			}
			data = data[n:]
			rec.ThreadID = tid
		}

		if flags&(1<<3) != 0 {
			sid, n := varint.Uint32(data)
			if n == 0 {
				return out, ErrTruncated
			}
			data = data[n:]
			rec.StackID = sid
		}

		tsDeltaRaw, n := varint.Uint64(data)
		if n == 0 {
			return out, ErrTruncated
		}
		data = data[n:]
		tsDelta := int64(tsDeltaRaw)
		if last.valid {
			rec.Timestamp = last.timestamp + tsDelta
		} else {
			rec.Timestamp = tsDelta
		}

		if flags&(1<<4) != 0 {
			if len(data) < 16 {
				return out, ErrTruncated
			}
			copy(rec.ActivityID[:], data[:16])
			data = data[16:]
		}

		if flags&(1<<5) != 0 {
			if len(data) < 16 {
				return out, ErrTruncated
			}
			copy(rec.RelatedActivityID[:], data[:16])
			data = data[16:]
		}

		rec.IsSorted = flags&(1<<6) != 0

		dataLen := last.dataLen
		if flags&(1<<7) != 0 {
			dl, n := varint.Uint32(data)
			if n == 0 {
				return out, ErrTruncated
			}
			data = data[n:]
			dataLen = dl
		}
		if uint32(len(data)) < dataLen {
			return out, ErrTruncated
		}
		rec.Payload = append([]byte(nil), data[:dataLen]...)
		data = data[dataLen:]

		out = append(out, rec)
		last = compressedHeader{
			valid:             true,
			metadataID:        rec.MetadataID,
			sequenceNumber:    rec.SequenceNumber,
			threadID:          rec.ThreadID,
			captureThreadID:   rec.CaptureThreadID,
			procNumber:        rec.ProcNumber,
			stackID:           rec.StackID,
			activityID:        rec.ActivityID,
			relatedActivityID: rec.RelatedActivityID,
			timestamp:         rec.Timestamp,
			dataLen:           dataLen,
		}
	}
	return out, nil
}

// DecodeSequencePoint decodes a SequencePointBlock's raw Data(): i64
// timestamp | u32 thread_count | thread_count entries.
func DecodeSequencePoint(data []byte) (int64, []SequencePointEntry, error) {
	if len(data) < 12 {
		return 0, nil, ErrTruncated
	}
	ts := int64(binary.LittleEndian.Uint64(data[0:8]))
	count := binary.LittleEndian.Uint32(data[8:12])
	data = data[12:]
	entries := make([]SequencePointEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(data) < 12 {
			return 0, nil, ErrTruncated
		}
		entries = append(entries, SequencePointEntry{
			ThreadOSID:     binary.LittleEndian.Uint64(data[0:8]),
			SequenceNumber: binary.LittleEndian.Uint32(data[8:12]),
		})
		data = data[12:]
	}
	return ts, entries, nil
}

// DecodedStack is one interned call stack recovered from a StackBlock.
type DecodedStack struct {
	ID  uint32
	IPs []uint64
}

// DecodeStacks decodes every interned stack in a StackBlock's data
// section. initialID is the block's header initial_stack_id; stack ids
// are assigned sequentially starting there, mirroring WriteStack's
// append-only accumulation.
func DecodeStacks(data []byte, initialID uint32) ([]DecodedStack, error) {
	var out []DecodedStack
	id := initialID
	for len(data) > 0 {
		if len(data) < 4 {
			return out, ErrTruncated
		}
		size := binary.LittleEndian.Uint32(data[0:4])
		data = data[4:]
		if uint32(len(data)) < size || size%8 != 0 {
			return out, ErrTruncated
		}
		ips := make([]uint64, size/8)
		for i := range ips {
			ips[i] = binary.LittleEndian.Uint64(data[i*8 : i*8+8])
		}
		data = data[size:]
		out = append(out, DecodedStack{ID: id, IPs: ips})
		id++
	}
	return out, nil
}
