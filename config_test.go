package eventpipe

import (
	"bytes"
	"testing"
)

func TestParseProviderConfig(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []SessionProviderConfig
		wantErr bool
	}{
		{name: "empty", input: "", want: nil},
		{name: "catch all", input: "*", want: []SessionProviderConfig{CatchAllProvider()}},
		{
			name:  "name only",
			input: "MyProvider",
			want:  []SessionProviderConfig{{Name: "MyProvider", Keywords: -1, Level: LevelVerbose}},
		},
		{
			name:  "name and keywords",
			input: "MyProvider:FF",
			want:  []SessionProviderConfig{{Name: "MyProvider", Keywords: 0xFF, Level: LevelVerbose}},
		},
		{
			name:  "full spec",
			input: "MyProvider:1:4:somefilter",
			want:  []SessionProviderConfig{{Name: "MyProvider", Keywords: 1, Level: LevelInformational, FilterData: "somefilter"}},
		},
		{
			name:  "multiple entries",
			input: "A:1:2,B:3:4",
			want: []SessionProviderConfig{
				{Name: "A", Keywords: 1, Level: LevelError},
				{Name: "B", Keywords: 3, Level: LevelInformational},
			},
		},
		{name: "missing name", input: ":1:2", wantErr: true},
		{name: "bad keywords", input: "A:zz", wantErr: true},
		{name: "bad level", input: "A:1:zz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProviderConfig(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("entry %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestBuildEventMetadataRecordRoundTrip(t *testing.T) {
	c := NewConfiguration()
	p := c.CreateProvider("MyCompany-MyApp", nil, nil)
	ev := NewEvent(p, 7, 0x1, 2, LevelInformational, false, nil)

	rec := c.BuildEventMetadataRecord(ev, 1000, 42, 99)
	if rec.MetadataID != 0 {
		t.Fatalf("metadata records must carry the sentinel MetadataID 0, got %d", rec.MetadataID)
	}

	gotID, gotName, gotBlob, err := DecodeMetadataPayload(rec.Payload)
	if err != nil {
		t.Fatalf("DecodeMetadataPayload: %v", err)
	}
	if gotID != 42 {
		t.Errorf("metadataID = %d, want 42", gotID)
	}
	if gotName != "MyCompany-MyApp" {
		t.Errorf("providerName = %q, want MyCompany-MyApp", gotName)
	}
	if !bytes.Equal(gotBlob, ev.MetadataBlob()) {
		t.Errorf("blob = %v, want %v", gotBlob, ev.MetadataBlob())
	}
}

func TestConfigurationEnableRecomputesUnionAndEventMask(t *testing.T) {
	c := NewConfiguration()
	p := c.CreateProvider("MyProvider", nil, nil)
	ev := NewEvent(p, 1, 0x2, 1, LevelInformational, false, nil)

	if ev.EnabledMask() != 0 {
		t.Fatalf("event should start disabled")
	}

	c.Enable(0, []SessionProviderConfig{{Name: "MyProvider", Keywords: 0x2, Level: LevelVerbose}})
	if !ev.IsEnabledFor(0) {
		t.Fatalf("event should be enabled for session 0 after matching Enable")
	}

	c.Enable(1, []SessionProviderConfig{{Name: "MyProvider", Keywords: 0x4, Level: LevelVerbose}})
	if ev.IsEnabledFor(1) {
		t.Errorf("event should stay disabled for session 1: keywords don't intersect")
	}

	c.Disable(0)
	if ev.IsEnabledFor(0) {
		t.Errorf("event should be disabled for session 0 after Disable")
	}
}

func TestConfigurationCatchAllEnablesEveryProvider(t *testing.T) {
	c := NewConfiguration()
	p1 := c.CreateProvider("First", nil, nil)
	p2 := c.CreateProvider("Second", nil, nil)
	e1 := NewEvent(p1, 1, 0, 1, LevelInformational, false, nil)
	e2 := NewEvent(p2, 1, 0, 1, LevelInformational, false, nil)

	c.Enable(0, []SessionProviderConfig{CatchAllProvider()})
	if !e1.IsEnabledFor(0) || !e2.IsEnabledFor(0) {
		t.Fatalf("catch-all subscription should enable every provider's events")
	}
}
