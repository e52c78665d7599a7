package eventpipe

import (
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/ehrlich-b/eventpipe/internal/fastserializer"
)

// TraceHeader is the decoded form of traceObject, recovered from a
// trace stream's leading Trace object.
type TraceHeader struct {
	OpenTimestamp      int64
	TimestampFrequency int64
	PointerSize        uint32
	ProcessID          uint32
	NumberOfProcessors uint32
	SamplingRateNs     uint32
	OpenedAt           time.Time
}

// RawBlock is one undecoded block object recovered from the stream:
// its FastSerialization type name and HeaderAndData-shaped body bytes.
type RawBlock struct {
	TypeName string
	Data     []byte
}

// ErrBadFileLiteral is returned when a stream doesn't open with the
// 8-byte "Nettrace" literal.
var ErrBadFileLiteral = errors.New("eventpipe: missing Nettrace file literal")

// TraceReader decodes a stream written by Session's serializer: the
// file literal, the Trace object, then a sequence of block objects
// until the stream-closing NullReference.
type TraceReader struct {
	fr *fastserializer.Reader
}

// OpenTraceReader reads the file literal and Trace object from r and
// returns the header alongside a TraceReader positioned at the first
// block.
func OpenTraceReader(r io.Reader) (*TraceHeader, *TraceReader, error) {
	lit := make([]byte, len(traceFileLiteral))
	if _, err := io.ReadFull(r, lit); err != nil {
		return nil, nil, err
	}
	if string(lit) != traceFileLiteral {
		return nil, nil, ErrBadFileLiteral
	}

	fr, err := fastserializer.NewReader(r)
	if err != nil {
		return nil, nil, err
	}

	hdr, ok, err := fr.ReadObjectHeader()
	if err != nil {
		return nil, nil, err
	}
	if !ok || hdr.TypeName != "Trace" {
		return nil, nil, errors.New("eventpipe: expected leading Trace object")
	}
	th, err := decodeTraceBody(fr)
	if err != nil {
		return nil, nil, err
	}
	if err := fr.ReadEndObject(); err != nil {
		return nil, nil, err
	}
	return th, &TraceReader{fr: fr}, nil
}

func decodeTraceBody(fr *fastserializer.Reader) (*TraceHeader, error) {
	body, err := fr.ReadRaw(48)
	if err != nil {
		return nil, err
	}
	return &TraceHeader{
		OpenedAt:           decodeSystemTime(body[0:16]),
		OpenTimestamp:      int64(binary.LittleEndian.Uint64(body[16:24])),
		TimestampFrequency: int64(binary.LittleEndian.Uint64(body[24:32])),
		PointerSize:        binary.LittleEndian.Uint32(body[32:36]),
		ProcessID:          binary.LittleEndian.Uint32(body[36:40]),
		NumberOfProcessors: binary.LittleEndian.Uint32(body[40:44]),
		SamplingRateNs:     binary.LittleEndian.Uint32(body[44:48]),
	}, nil
}

func decodeSystemTime(b []byte) time.Time {
	f := make([]uint16, 8)
	for i := range f {
		f[i] = binary.LittleEndian.Uint16(b[i*2 : i*2+2])
	}
	return time.Date(int(f[0]), time.Month(f[1]), int(f[3]), int(f[4]), int(f[5]), int(f[6]), int(f[7])*1_000_000, time.UTC)
}

// Next reads the next block object, or returns io.EOF at the
// stream-closing NullReference.
func (tr *TraceReader) Next() (*RawBlock, error) {
	hdr, ok, err := tr.fr.ReadObjectHeader()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, io.EOF
	}
	data, err := tr.fr.ReadBlockBody()
	if err != nil {
		return nil, err
	}
	if err := tr.fr.ReadEndObject(); err != nil {
		return nil, err
	}
	return &RawBlock{TypeName: hdr.TypeName, Data: data}, nil
}
