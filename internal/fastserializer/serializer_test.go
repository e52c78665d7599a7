package fastserializer

import (
	"bytes"
	"io"
	"testing"
)

type fakeObject struct {
	typeName string
	data     []byte
}

func (f *fakeObject) TypeName() string { return f.typeName }

func (f *fakeObject) FastSerialize(s *Serializer) error {
	return s.WriteRaw(f.data)
}

func TestWriteObjectReadObjectHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	s, err := New(&buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	obj := &fakeObject{typeName: "FakeBlock", data: []byte{1, 2, 3, 4, 5, 6, 7}}
	if err := s.WriteObject(1, 0, obj); err != nil {
		t.Fatalf("WriteObject: %v", err)
	}
	if err := s.WriteEnd(); err != nil {
		t.Fatalf("WriteEnd: %v", err)
	}

	rd, err := NewReader(&buf)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	hdr, ok, err := rd.ReadObjectHeader()
	if err != nil {
		t.Fatalf("ReadObjectHeader: %v", err)
	}
	if !ok {
		t.Fatalf("ReadObjectHeader reported no object")
	}
	if hdr.TypeName != "FakeBlock" || hdr.Version != 1 {
		t.Errorf("hdr = %+v, want TypeName=FakeBlock Version=1", hdr)
	}
	got, err := rd.ReadRaw(len(obj.data))
	if err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	if !bytes.Equal(got, obj.data) {
		t.Errorf("ReadRaw = %v, want %v", got, obj.data)
	}
	if err := rd.ReadEndObject(); err != nil {
		t.Fatalf("ReadEndObject: %v", err)
	}

	_, ok, err = rd.ReadObjectHeader()
	if ok || err != io.EOF {
		t.Errorf("second ReadObjectHeader = (ok=%v, err=%v), want (false, io.EOF)", ok, err)
	}
}

func TestReaderBadSignature(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("\x04\x00\x00\x00bogus")
	if _, err := NewReader(&buf); err != errUnexpectedSignature {
		t.Errorf("NewReader err = %v, want signature error", err)
	}
}

func TestReadBlockBodyAlignment(t *testing.T) {
	var buf bytes.Buffer
	s, err := New(&buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// One tag-plus-payload write (2 bytes) desyncs alignment before the
	// block, the same way a BeginObject/NullReference pair does ahead of a
	// real block.
	if err := s.WriteTag(TagByte, []byte{0xAB}); err != nil {
		t.Fatalf("WriteTag: %v", err)
	}
	body := []byte{1, 2, 3, 4, 5}
	var szBuf [4]byte
	szBuf[0] = byte(len(body))
	if err := s.WriteRaw(szBuf[:]); err != nil {
		t.Fatalf("WriteRaw size: %v", err)
	}
	if err := s.WritePadding(); err != nil {
		t.Fatalf("WritePadding: %v", err)
	}
	if err := s.WriteRaw(body); err != nil {
		t.Fatalf("WriteRaw body: %v", err)
	}

	rd, err := NewReader(&buf)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if _, err := rd.ReadTag(); err != nil {
		t.Fatalf("ReadTag: %v", err)
	}
	if _, err := rd.ReadRaw(1); err != nil {
		t.Fatalf("ReadRaw tag payload: %v", err)
	}
	got, err := rd.ReadBlockBody()
	if err != nil {
		t.Fatalf("ReadBlockBody: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("ReadBlockBody = %v, want %v", got, body)
	}
}
