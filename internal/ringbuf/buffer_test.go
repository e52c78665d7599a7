package ringbuf

import (
	"bytes"
	"testing"
)

func TestBufferWriteReadRoundTrip(t *testing.T) {
	b := NewBuffer(256, 99, 1, GuardHeader, 1000)

	records := []*Record{
		{ThreadID: 99, Timestamp: 10, MetadataID: 1, SequenceNumber: 1, Payload: []byte("one")},
		{ThreadID: 99, Timestamp: 20, MetadataID: 1, SequenceNumber: 2, StackIDs: []uint64{7, 8}, Payload: []byte("two")},
	}
	for i, r := range records {
		if !b.WriteEvent(r) {
			t.Fatalf("WriteEvent(%d) returned false, buffer unexpectedly full", i)
		}
	}
	if !b.CheckIntegrity() {
		t.Fatalf("CheckIntegrity failed after writes")
	}

	b.ConvertToReadOnly()
	if b.State() != StateReadOnly {
		t.Fatalf("State() = %v, want StateReadOnly", b.State())
	}

	var got []*Record
	for b.HasCurrentEvent() {
		got = append(got, b.CurrentEvent())
		b.MoveNextReadEvent()
	}
	if len(got) != len(records) {
		t.Fatalf("read %d records, want %d", len(got), len(records))
	}
	for i, want := range records {
		if got[i].ThreadID != want.ThreadID || got[i].Timestamp != want.Timestamp {
			t.Errorf("record %d = %+v, want ThreadID=%d Timestamp=%d", i, got[i], want.ThreadID, want.Timestamp)
		}
		if !bytes.Equal(got[i].Payload, want.Payload) {
			t.Errorf("record %d payload = %q, want %q", i, got[i].Payload, want.Payload)
		}
		if len(got[i].StackIDs) != len(want.StackIDs) {
			t.Errorf("record %d stack ids = %v, want %v", i, got[i].StackIDs, want.StackIDs)
		}
	}
}

func TestBufferWriteEventRejectsWhenFull(t *testing.T) {
	b := NewBuffer(64, 1, 0, GuardNone, 0)
	big := &Record{Payload: make([]byte, 256)}
	if b.WriteEvent(big) {
		t.Fatalf("WriteEvent with an oversized payload should fail")
	}
}

func TestBufferWriteEventRejectsAfterConvertToReadOnly(t *testing.T) {
	b := NewBuffer(256, 1, 0, GuardNone, 0)
	b.ConvertToReadOnly()
	if b.WriteEvent(&Record{Payload: []byte("x")}) {
		t.Fatalf("WriteEvent should fail once the buffer is read-only")
	}
}

func TestCurrentEventTimestampMatchesDecodedRecord(t *testing.T) {
	b := NewBuffer(256, 1, 0, GuardNone, 0)
	b.WriteEvent(&Record{ThreadID: 1, Timestamp: 555, Payload: []byte("p")})
	b.ConvertToReadOnly()

	ts, ok := b.CurrentEventTimestamp()
	if !ok {
		t.Fatalf("CurrentEventTimestamp reported no event")
	}
	if ts != 555 {
		t.Errorf("CurrentEventTimestamp = %d, want 555", ts)
	}
	if rec := b.CurrentEvent(); rec.Timestamp != ts {
		t.Errorf("CurrentEvent().Timestamp = %d, want %d", rec.Timestamp, ts)
	}
}
