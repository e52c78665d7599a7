package eventpipe

import (
	"bytes"
	"testing"

	"github.com/ehrlich-b/eventpipe/internal/block"
)

// decodeAllEvents drains every MetadataBlock/EventBlock pair from a
// written trace, in stream order, returning every decoded event record
// across all blocks plus the resolved provider-name-per-metadata-id map.
func decodeAllEvents(t *testing.T, raw []byte) ([]block.DecodedEvent, map[uint32]string) {
	t.Helper()
	_, tr, err := OpenTraceReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("OpenTraceReader: %v", err)
	}

	names := make(map[uint32]string)
	var events []block.DecodedEvent
	for {
		rb, err := tr.Next()
		if err != nil {
			break
		}
		switch rb.TypeName {
		case "MetadataBlock":
			hdr, recs, err := decodeBlockRecords(t, rb.Data)
			if err != nil {
				t.Fatalf("decode MetadataBlock: %v", err)
			}
			for _, r := range recs {
				id, name, _, err := DecodeMetadataPayload(r.Payload)
				if err != nil {
					t.Fatalf("DecodeMetadataPayload: %v", err)
				}
				names[id] = name
			}
			_ = hdr
		case "EventBlock":
			_, recs, err := decodeBlockRecords(t, rb.Data)
			if err != nil {
				t.Fatalf("decode EventBlock: %v", err)
			}
			events = append(events, recs...)
		}
	}
	return events, names
}

func decodeBlockRecords(t *testing.T, data []byte) (block.Header, []block.DecodedEvent, error) {
	t.Helper()
	hdr, body, err := block.DecodeHeader(data)
	if err != nil {
		return hdr, nil, err
	}
	recs, err := block.DecodeEvents(body, hdr.Compressed)
	return hdr, recs, err
}

// TestFileSessionRoundTripsEventsInTimestampOrder writes a batch of
// events across two threads at interleaved timestamps through a
// buffered session, then confirms the decoded stream holds all four
// events in non-decreasing timestamp order.
func TestFileSessionRoundTripsEventsInTimestampOrder(t *testing.T) {
	ep := newReadyFacade(t)
	p := ep.Config().CreateProvider("MyApp", nil, nil)
	ev := NewEvent(p, 1, 0, 1, LevelInformational, false, nil)

	fs := NewFakeSink()
	id, err := ep.Enable(EnableOptions{
		Type:             TypeListener,
		Format:           block.FormatNetTraceV4,
		Writer:           fs,
		CircularBufferMB: 1,
		Providers:        []SessionProviderConfig{{Name: "MyApp", Keywords: -1, Level: LevelVerbose}},
	})
	if err != nil {
		t.Fatalf("Enable: %v", err)
	}

	thA := ep.Registry().NewAndRegister()
	thB := ep.Registry().NewAndRegister()
	defer thA.Unregister()
	defer thB.Unregister()

	var zero [16]byte
	ep.WriteEvent(thA, ev, []byte("a1"), zero, zero, nil)
	ep.WriteEvent(thB, ev, []byte("b1"), zero, zero, nil)
	ep.WriteEvent(thA, ev, []byte("a2"), zero, zero, nil)
	ep.WriteEvent(thB, ev, []byte("b2"), zero, zero, nil)

	if err := ep.Disable(id); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	events, _ := decodeAllEvents(t, fs.Bytes())
	if len(events) != 4 {
		t.Fatalf("decoded %d events, want 4", len(events))
	}
	var ts []int64
	for _, e := range events {
		ts = append(ts, e.Timestamp)
	}
	for i := 1; i < len(ts); i++ {
		if ts[i] < ts[i-1] {
			t.Errorf("events not in non-decreasing timestamp order: %v", ts)
			break
		}
	}
}

// TestFileSessionDedupsMetadataAcrossManyEvents grounds the
// metadata-dedup property at the wire level: writing the same event 10
// times must produce exactly one metadata record (one distinct
// metadata id resolvable to the provider name) and 10 event records
// referencing it.
func TestFileSessionDedupsMetadataAcrossManyEvents(t *testing.T) {
	ep := newReadyFacade(t)
	p := ep.Config().CreateProvider("MyApp", nil, nil)
	ev := NewEvent(p, 1, 0, 1, LevelInformational, false, nil)

	fs := NewFakeSink()
	id, err := ep.Enable(EnableOptions{
		Type:             TypeListener,
		Format:           block.FormatNetTraceV4,
		Writer:           fs,
		CircularBufferMB: 1,
		Providers:        []SessionProviderConfig{{Name: "MyApp", Keywords: -1, Level: LevelVerbose}},
	})
	if err != nil {
		t.Fatalf("Enable: %v", err)
	}

	th := ep.Registry().NewAndRegister()
	defer th.Unregister()

	var zero [16]byte
	for i := 0; i < 10; i++ {
		ep.WriteEvent(th, ev, []byte("x"), zero, zero, nil)
	}

	if err := ep.Disable(id); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	events, names := decodeAllEvents(t, fs.Bytes())
	if len(events) != 10 {
		t.Fatalf("decoded %d event records, want 10", len(events))
	}
	if len(names) != 1 {
		t.Fatalf("decoded %d distinct metadata ids, want 1: %v", len(names), names)
	}
	for id, name := range names {
		if name != "MyApp" {
			t.Errorf("metadata id %d resolved to provider %q, want MyApp", id, name)
		}
	}
	for _, e := range events {
		if e.MetadataID == 0 {
			t.Errorf("event record carries the metadata-record sentinel id 0")
		}
	}
}

// TestFileSessionHeaderCompressionStaysCompact grounds the header
// compression property: a run of 1000 identical-shape events (same
// thread, same metadata id, monotonically increasing timestamp) should
// compress to a small fraction of their naive uncompressed size.
func TestFileSessionHeaderCompressionStaysCompact(t *testing.T) {
	ep := newReadyFacade(t)
	p := ep.Config().CreateProvider("MyApp", nil, nil)
	ev := NewEvent(p, 1, 0, 1, LevelInformational, false, nil)

	fs := NewFakeSink()
	id, err := ep.Enable(EnableOptions{
		Type:             TypeListener,
		Format:           block.FormatNetTraceV4,
		Writer:           fs,
		CircularBufferMB: 8,
		Providers:        []SessionProviderConfig{{Name: "MyApp", Keywords: -1, Level: LevelVerbose}},
	})
	if err != nil {
		t.Fatalf("Enable: %v", err)
	}

	th := ep.Registry().NewAndRegister()
	defer th.Unregister()

	var zero [16]byte
	const n = 1000
	for i := 0; i < n; i++ {
		ep.WriteEvent(th, ev, []byte{1, 2, 3, 4}, zero, zero, nil)
	}

	if err := ep.Disable(id); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	events, _ := decodeAllEvents(t, fs.Bytes())
	if len(events) != n {
		t.Fatalf("decoded %d events, want %d", len(events), n)
	}
	if got := len(fs.Bytes()); got > 40*1024 {
		t.Errorf("encoded trace for %d tiny identical-shape events took %d bytes, expected header compression to keep this compact", n, got)
	}
}
