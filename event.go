package eventpipe

import (
	"sync/atomic"

	"github.com/ehrlich-b/eventpipe/internal/metadata"
)

// Level is the 0..5 coarse severity filter.
type Level uint32

const (
	LevelLogAlways     Level = 0
	LevelCritical      Level = 1
	LevelError         Level = 2
	LevelWarning       Level = 3
	LevelInformational Level = 4
	LevelVerbose       Level = 5
)

// Event belongs to exactly one provider for its entire life.
type Event struct {
	Provider  *Provider
	EventID   uint32
	Version   uint32
	Keywords  int64
	Level     Level
	NeedStack bool

	metadataBlob []byte

	enabledMask atomic.Uint64
}

// NewEvent constructs an Event owned by provider and appends it to the
// provider's event list. If meta is nil, a minimal v1 metadata blob is
// auto-generated from the event's own fields (no named parameters).
func NewEvent(provider *Provider, eventID uint32, keywords int64, version uint32, level Level, needStack bool, meta *metadata.Descriptor) *Event {
	e := &Event{
		Provider:  provider,
		EventID:   eventID,
		Version:   version,
		Keywords:  keywords,
		Level:     level,
		NeedStack: needStack,
	}
	if meta == nil {
		meta = &metadata.Descriptor{
			EventID:   eventID,
			EventName: provider.Name,
			Keywords:  keywords,
			Version:   version,
			Level:     uint32(level),
		}
	}
	e.metadataBlob = metadata.Build(meta)
	provider.addEvent(e)
	return e
}

// MetadataBlob returns the event's wire-format descriptor blob.
func (e *Event) MetadataBlob() []byte {
	return e.metadataBlob
}

// EnabledMask returns the bitmask of sessions that currently accept
// this event after keyword/level filtering.
func (e *Event) EnabledMask() uint64 {
	return e.enabledMask.Load()
}

// IsEnabledFor is the hot-path check gating per-event writes.
func (e *Event) IsEnabledFor(sessionIndex int) bool {
	return e.enabledMask.Load()&(1<<uint(sessionIndex)) != 0
}

// recomputeEnabledMask applies §4.2's enable rule against every
// sessionProvider entry supplied by the configuration: enabled iff the
// provider is enabled for that session AND (keywords intersect or
// event keywords == 0) AND (event level == LogAlways or session level
// >= event level).
func (e *Event) recomputeEnabledMask(subs []sessionSubscription) {
	var mask uint64
	for _, sub := range subs {
		if !matchesProvider(sub.providerName, e.Provider.Name) {
			continue
		}
		keywordsOK := e.Keywords == 0 || (e.Keywords&sub.keywords) != 0
		levelOK := e.Level == LevelLogAlways || sub.level >= e.Level
		if keywordsOK && levelOK {
			mask |= 1 << uint(sub.sessionIndex)
		}
	}
	e.enabledMask.Store(mask)
}

// sessionSubscription is the flattened per-session view Configuration
// hands to recomputeEnabledMask: one entry per (session, matching
// SessionProvider) pair, already resolved for catch-all ("*") matches.
type sessionSubscription struct {
	sessionIndex int
	providerName string
	keywords     int64
	level        Level
}

func matchesProvider(subName, providerName string) bool {
	return subName == "*" || subName == providerName
}
