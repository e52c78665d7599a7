package eventpipe

import (
	"testing"

	"github.com/ehrlich-b/eventpipe/internal/metadata"
)

func TestNewEventAutoGeneratesMetadataBlob(t *testing.T) {
	c := NewConfiguration()
	p := c.CreateProvider("MyApp", nil, nil)
	ev := NewEvent(p, 5, 0x10, 3, LevelWarning, false, nil)

	if len(ev.MetadataBlob()) == 0 {
		t.Fatalf("expected a non-empty auto-generated metadata blob")
	}
}

func TestNewEventHonorsExplicitMetadata(t *testing.T) {
	c := NewConfiguration()
	p := c.CreateProvider("MyApp", nil, nil)
	meta := &metadata.Descriptor{EventID: 9, EventName: "Custom", Version: 1}
	ev := NewEvent(p, 9, 0, 1, LevelInformational, false, meta)

	if string(ev.MetadataBlob()) != string(metadata.Build(meta)) {
		t.Errorf("explicit metadata descriptor was not used to build the blob")
	}
}

func TestRecomputeEnabledMaskKeywordAndLevelRules(t *testing.T) {
	c := NewConfiguration()
	p := c.CreateProvider("MyApp", nil, nil)

	tests := []struct {
		name     string
		keywords int64
		level    Level
		sub      sessionSubscription
		want     bool
	}{
		{
			name: "zero keywords always pass keyword filter",
			want: true,
			sub:  sessionSubscription{providerName: "MyApp", keywords: 0, level: LevelInformational},
		},
		{
			name:     "keyword intersection required",
			keywords: 0x4,
			sub:      sessionSubscription{providerName: "MyApp", keywords: 0x1, level: LevelVerbose},
			want:     false,
		},
		{
			name:     "keyword intersection present",
			keywords: 0x5,
			sub:      sessionSubscription{providerName: "MyApp", keywords: 0x4, level: LevelVerbose},
			want:     true,
		},
		{
			name:  "LogAlways bypasses level check",
			level: LevelLogAlways,
			sub:   sessionSubscription{providerName: "MyApp", level: LevelCritical},
			want:  true,
		},
		{
			name:  "session level below event level",
			level: LevelVerbose,
			sub:   sessionSubscription{providerName: "MyApp", level: LevelError},
			want:  false,
		},
		{
			name:  "non-matching provider never enables",
			level: LevelLogAlways,
			sub:   sessionSubscription{providerName: "SomeoneElse", level: LevelVerbose},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := NewEvent(p, 1, tt.keywords, 1, tt.level, false, nil)
			ev.recomputeEnabledMask([]sessionSubscription{tt.sub})
			got := ev.IsEnabledFor(tt.sub.sessionIndex)
			if got != tt.want {
				t.Errorf("IsEnabledFor(%d) = %v, want %v", tt.sub.sessionIndex, got, tt.want)
			}
		})
	}
}

func TestMatchesProviderCatchAll(t *testing.T) {
	if !matchesProvider("*", "AnyProvider") {
		t.Errorf("\"*\" should match any provider name")
	}
	if !matchesProvider("Exact", "Exact") {
		t.Errorf("exact names should match")
	}
	if matchesProvider("Exact", "Other") {
		t.Errorf("mismatched names should not match")
	}
}
