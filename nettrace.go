package eventpipe

import (
	"encoding/binary"
	"time"

	"github.com/ehrlich-b/eventpipe/internal/block"
	"github.com/ehrlich-b/eventpipe/internal/fastserializer"
)

// traceFileLiteral is the 8-byte ASCII literal that opens every
// NetTrace v4 file, written before the FastSerialization stream begins.
const traceFileLiteral = "Nettrace"

// traceObject is the root FastSerializable object: system clock info,
// timestamp frequency, and process metadata.
type traceObject struct {
	openTimestamp      int64
	timestampFrequency int64
	pointerSize        uint32
	processID          uint32
	numberOfProcessors uint32
	samplingRateNs     uint32
	openedAt           time.Time
}

func (t *traceObject) TypeName() string { return "Trace" }

func (t *traceObject) FastSerialize(s *fastserializer.Serializer) error {
	var buf []byte
	buf = appendSystemTime(buf, t.openedAt)
	buf = appendI64(buf, t.openTimestamp)
	buf = appendI64(buf, t.timestampFrequency)
	buf = appendU32Local(buf, t.pointerSize)
	buf = appendU32Local(buf, t.processID)
	buf = appendU32Local(buf, t.numberOfProcessors)
	buf = appendU32Local(buf, t.samplingRateNs)
	return s.WriteRaw(buf)
}

func appendSystemTime(b []byte, t time.Time) []byte {
	t = t.UTC()
	fields := []uint16{
		uint16(t.Year()),
		uint16(t.Month()),
		uint16(t.Weekday()),
		uint16(t.Day()),
		uint16(t.Hour()),
		uint16(t.Minute()),
		uint16(t.Second()),
		uint16(t.Nanosecond() / 1_000_000),
	}
	for _, f := range fields {
		b = append(b, byte(f), byte(f>>8))
	}
	return b
}

func appendU32Local(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendI64(b []byte, v int64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	return append(b, tmp[:]...)
}

// blockBody is the small closed set of block accumulators that can be
// written through writeBlockObject: each wraps an internal/block type
// with the Trace-level object type name it serializes under.
type blockBody interface {
	TypeName() string
	TotalSize() int
	HeaderAndData() []byte
}

type eventBlockObject struct{ *block.EventBlock }

func (o eventBlockObject) TypeName() string { return "EventBlock" }

type metadataBlockObject struct{ *block.MetadataBlock }

func (o metadataBlockObject) TypeName() string { return "MetadataBlock" }

type stackBlockObject struct{ *block.StackBlock }

func (o stackBlockObject) TypeName() string { return "StackBlock" }

// writeBlockObject emits BeginObject | NullReference | version | name |
// u32 total_size | alignment padding | header | data | EndObject, with
// the padding computed from the serializer's live stream position per
// §4.7's generic Block.serialize contract.
func writeBlockObject(s *fastserializer.Serializer, version, minReaderVersion uint32, b blockBody) error {
	return s.WriteObject(version, minReaderVersion, blockAdapter{b})
}

// blockAdapter bridges blockBody (which knows nothing about
// fastserializer to avoid an import cycle with internal/block) into
// fastserializer.Serializable.
type blockAdapter struct{ blockBody }

func (a blockAdapter) FastSerialize(s *fastserializer.Serializer) error {
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(a.TotalSize()))
	if err := s.WriteRaw(sizeBuf[:]); err != nil {
		return err
	}
	if err := s.WritePadding(); err != nil {
		return err
	}
	return s.WriteRaw(a.HeaderAndData())
}

// sequencePointObject wraps block.SequencePointBlock (header-less).
type sequencePointObject struct {
	b *block.SequencePointBlock
}

func (o sequencePointObject) TypeName() string { return "SPBlock" }

func (o sequencePointObject) FastSerialize(s *fastserializer.Serializer) error {
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(o.b.TotalSize()))
	if err := s.WriteRaw(sizeBuf[:]); err != nil {
		return err
	}
	if err := s.WritePadding(); err != nil {
		return err
	}
	return s.WriteRaw(o.b.Data())
}
