// Package fastserializer implements the tagged, 4-byte-aligned object
// stream ("FastSerialization") that the trace file and its blocks are
// framed in.
package fastserializer

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Tag is one of the FastSerialization stream's tag bytes. The set is
// closed and the values are wire-binding.
type Tag byte

const (
	TagNullReference     Tag = 1
	TagObjectReference   Tag = 2
	TagBeginObject        Tag = 4
	TagBeginPrivateObject Tag = 5
	TagEndObject          Tag = 6
	TagByte               Tag = 8
	TagInt16              Tag = 9
	TagInt32              Tag = 10
	TagInt64              Tag = 11
	TagSkipRegion         Tag = 12
	TagString             Tag = 13
	TagBlob               Tag = 14
)

const signature = "!FastSerialization.1"

// Serializable is implemented by every object written through
// Serializer.WriteObject: a closed, tagged variant (Trace, EventBlock,
// MetadataBlock, StackBlock, SPBlock) rather than open polymorphism.
type Serializable interface {
	TypeName() string
	FastSerialize(s *Serializer) error
}

// Serializer wraps a byte sink and tracks the padding needed before the
// next object write to preserve 4-byte alignment.
type Serializer struct {
	w               io.Writer
	writtenSinceAlign int
	writeError      error
}

// New creates a Serializer and immediately writes the FastSerialization
// signature.
func New(w io.Writer) (*Serializer, error) {
	s := &Serializer{w: w}
	if err := s.writeString([]byte(signature)); err != nil {
		return nil, err
	}
	return s, nil
}

// Err returns the first write error encountered, if any. Once set, all
// further writes are no-ops (soft-error policy: short writes and IPC
// failures are recorded, not propagated per-call).
func (s *Serializer) Err() error {
	return s.writeError
}

func (s *Serializer) writeBuffer(b []byte) error {
	if s.writeError != nil {
		return s.writeError
	}
	n, err := s.w.Write(b)
	if err != nil {
		s.writeError = err
		return err
	}
	if n != len(b) {
		s.writeError = io.ErrShortWrite
		return s.writeError
	}
	s.writtenSinceAlign = (s.writtenSinceAlign + n) % 4
	return nil
}

// RequiredPadding returns the number of zero bytes needed right now to
// bring the stream back to 4-byte alignment.
func (s *Serializer) RequiredPadding() int {
	if s.writtenSinceAlign == 0 {
		return 0
	}
	return 4 - s.writtenSinceAlign
}

// WritePadding emits RequiredPadding zero bytes.
func (s *Serializer) WritePadding() error {
	n := s.RequiredPadding()
	if n == 0 {
		return nil
	}
	return s.writeBuffer(make([]byte, n))
}

// WriteTag emits a tag byte followed by an optional payload.
func (s *Serializer) WriteTag(tag Tag, payload []byte) error {
	if err := s.writeBuffer([]byte{byte(tag)}); err != nil {
		return err
	}
	if len(payload) > 0 {
		return s.writeBuffer(payload)
	}
	return nil
}

func (s *Serializer) writeString(b []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if err := s.writeBuffer(lenBuf[:]); err != nil {
		return err
	}
	return s.writeBuffer(b)
}

// WriteString emits u32 length | bytes.
func (s *Serializer) WriteString(str string) error {
	return s.writeString([]byte(str))
}

// WriteRaw writes raw bytes directly to the sink, updating the
// alignment counter. Block writers use it for the u32 length prefix and
// the body, with WritePadding between the two.
func (s *Serializer) WriteRaw(b []byte) error {
	return s.writeBuffer(b)
}

// WriteObject emits BeginObject | NullReference | u32 version | u32
// min_reader_version | String type_name | <body> | EndObject.
func (s *Serializer) WriteObject(version, minReaderVersion uint32, obj Serializable) error {
	if err := s.WriteTag(TagBeginObject, nil); err != nil {
		return err
	}
	if err := s.WriteTag(TagNullReference, nil); err != nil {
		return err
	}
	var verBuf [8]byte
	binary.LittleEndian.PutUint32(verBuf[0:4], version)
	binary.LittleEndian.PutUint32(verBuf[4:8], minReaderVersion)
	if err := s.writeBuffer(verBuf[:]); err != nil {
		return err
	}
	if err := s.WriteString(obj.TypeName()); err != nil {
		return err
	}
	if err := obj.FastSerialize(s); err != nil {
		return err
	}
	return s.WriteTag(TagEndObject, nil)
}

// WriteEnd marks the end of the stream with a closing NullReference tag.
func (s *Serializer) WriteEnd() error {
	return s.WriteTag(TagNullReference, nil)
}

// Reader is the read-side mirror of Serializer: it tracks the same
// 4-byte alignment counter so block readers can find the padding a
// Serializer inserted without re-deriving it from absolute file offsets.
type Reader struct {
	r              io.Reader
	readSinceAlign int
}

// NewReader reads and checks the FastSerialization signature, then
// returns a Reader positioned at the first object tag.
func NewReader(r io.Reader) (*Reader, error) {
	rd := &Reader{r: r}
	var lenBuf [4]byte
	if err := rd.readFull(lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	got := make([]byte, n)
	if err := rd.readFull(got); err != nil {
		return nil, err
	}
	if string(got) != signature {
		return nil, errUnexpectedSignature
	}
	return rd, nil
}

var errUnexpectedSignature = &SignatureError{}

// SignatureError reports a FastSerialization stream whose leading
// string doesn't match the expected signature.
type SignatureError struct{}

func (*SignatureError) Error() string { return "fastserializer: bad stream signature" }

func (rd *Reader) readFull(b []byte) error {
	_, err := io.ReadFull(rd.r, b)
	if err != nil {
		return err
	}
	rd.readSinceAlign = (rd.readSinceAlign + len(b)) % 4
	return nil
}

// ReadTag reads the next single tag byte.
func (rd *Reader) ReadTag() (Tag, error) {
	var b [1]byte
	if err := rd.readFull(b[:]); err != nil {
		return 0, err
	}
	return Tag(b[0]), nil
}

// SkipPadding consumes the same number of alignment bytes WritePadding
// would have emitted at this point in the stream.
func (rd *Reader) SkipPadding() error {
	n := (4 - rd.readSinceAlign) % 4
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	return rd.readFull(buf)
}

// ReadRaw reads exactly n raw bytes, updating the alignment counter.
func (rd *Reader) ReadRaw(n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := rd.readFull(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ObjectHeader is the decoded BeginObject preamble: version,
// min-reader-version, and type name.
type ObjectHeader struct {
	Version          uint32
	MinReaderVersion uint32
	TypeName         string
}

// ReadObjectHeader reads BeginObject | NullReference | u32 version |
// u32 min_reader_version | String type_name, the preamble WriteObject
// emits before an object's own FastSerialize body. Returns
// (false, io.EOF) if the next tag is the stream-closing NullReference
// instead of a BeginObject.
func (rd *Reader) ReadObjectHeader() (ObjectHeader, bool, error) {
	tag, err := rd.ReadTag()
	if err != nil {
		return ObjectHeader{}, false, err
	}
	if tag == TagNullReference {
		return ObjectHeader{}, false, io.EOF
	}
	if tag != TagBeginObject {
		return ObjectHeader{}, false, &unexpectedTagError{tag}
	}
	if ref, err := rd.ReadTag(); err != nil {
		return ObjectHeader{}, false, err
	} else if ref != TagNullReference {
		return ObjectHeader{}, false, &unexpectedTagError{ref}
	}
	var verBuf [8]byte
	if err := rd.readFull(verBuf[:]); err != nil {
		return ObjectHeader{}, false, err
	}
	name, err := rd.readString()
	if err != nil {
		return ObjectHeader{}, false, err
	}
	return ObjectHeader{
		Version:          binary.LittleEndian.Uint32(verBuf[0:4]),
		MinReaderVersion: binary.LittleEndian.Uint32(verBuf[4:8]),
		TypeName:         name,
	}, true, nil
}

func (rd *Reader) readString() (string, error) {
	var lenBuf [4]byte
	if err := rd.readFull(lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if err := rd.readFull(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// ReadEndObject consumes the closing EndObject tag.
func (rd *Reader) ReadEndObject() error {
	tag, err := rd.ReadTag()
	if err != nil {
		return err
	}
	if tag != TagEndObject {
		return &unexpectedTagError{tag}
	}
	return nil
}

// ReadBlockBody reads a block object's body: u32 total_size | padding |
// total_size raw bytes, the inverse of blockAdapter.FastSerialize.
func (rd *Reader) ReadBlockBody() ([]byte, error) {
	var szBuf [4]byte
	if err := rd.readFull(szBuf[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(szBuf[:])
	if err := rd.SkipPadding(); err != nil {
		return nil, err
	}
	return rd.ReadRaw(int(size))
}

type unexpectedTagError struct{ tag Tag }

func (e *unexpectedTagError) Error() string {
	return fmt.Sprintf("fastserializer: unexpected tag %d", e.tag)
}
