package eventpipe

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode/utf16"

	"github.com/ehrlich-b/eventpipe/internal/ringbuf"
)

// SessionProviderConfig is one per-session subscription entry:
// (provider_name, keywords, level, filter_data). A catch-all entry
// (Name == "*") enables every provider.
type SessionProviderConfig struct {
	Name       string
	Keywords   int64
	Level      Level
	FilterData string
}

// CatchAllProvider returns the catch-all SessionProviderConfig that
// enables every provider at maximum verbosity.
func CatchAllProvider() SessionProviderConfig {
	return SessionProviderConfig{Name: "*", Keywords: -1, Level: LevelVerbose}
}

// ParseProviderConfig parses the bootstrap provider-config string
// format "name:keywords_hex:level:filter[,name:...]" (§6). This is a
// pure parser with no environment access — reading the actual
// environment variable is an external bootstrap's job, outside the
// core.
func ParseProviderConfig(s string) ([]SessionProviderConfig, error) {
	if s == "" {
		return nil, nil
	}
	var out []SessionProviderConfig
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			out = append(out, CatchAllProvider())
			continue
		}
		parts := strings.SplitN(entry, ":", 4)
		if len(parts) == 0 || parts[0] == "" {
			return nil, fmt.Errorf("eventpipe: invalid provider config entry %q", entry)
		}
		cfg := SessionProviderConfig{Name: parts[0], Keywords: -1, Level: LevelVerbose}
		if len(parts) > 1 && parts[1] != "" {
			kw, err := strconv.ParseUint(parts[1], 16, 64)
			if err != nil {
				return nil, fmt.Errorf("eventpipe: invalid keywords in %q: %w", entry, err)
			}
			cfg.Keywords = int64(kw)
		}
		if len(parts) > 2 && parts[2] != "" {
			lvl, err := strconv.ParseUint(parts[2], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("eventpipe: invalid level in %q: %w", entry, err)
			}
			cfg.Level = Level(lvl)
		}
		if len(parts) > 3 {
			cfg.FilterData = parts[3]
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Configuration is the singleton binding providers to sessions and
// computing effective keywords/level/enable masks.
type Configuration struct {
	mu        sync.Mutex
	providers map[string]*Provider

	configProvider *Provider
	metadataEvent  *Event

	// sessionProviders[i] is the subscription list for session i, or nil
	// if session i is not currently enabled.
	sessionProviders [64][]SessionProviderConfig
}

// NewConfiguration creates an empty configuration with its internal
// "config" provider and shared metadata event.
func NewConfiguration() *Configuration {
	c := &Configuration{providers: make(map[string]*Provider)}
	c.configProvider = newProvider("Microsoft-DotNETCore-EventPipeConfig", nil, nil)
	c.providers[c.configProvider.Name] = c.configProvider
	c.metadataEvent = NewEvent(c.configProvider, 0, 0, 1, LevelLogAlways, false, nil)
	return c
}

// CreateProvider inserts a new provider under the config lock. If any
// currently-enabled session matches it by name or catch-all, the
// provider's union state is computed immediately.
func (c *Configuration) CreateProvider(name string, cb ProviderCallback, userData any) *Provider {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := newProvider(name, cb, userData)
	c.providers[name] = p
	c.recomputeProviderLocked(p)
	return p
}

// DeleteProvider removes p immediately if no session is enabled for it,
// else marks it delete-deferred.
func (c *Configuration) DeleteProvider(p *Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.SessionMask() != 0 {
		p.markDeleteDeferred()
		return
	}
	delete(c.providers, p.Name)
}

// DeleteDeferredProviders removes every provider flagged for deferred
// deletion, called on session teardown.
func (c *Configuration) DeleteDeferredProviders() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, p := range c.providers {
		if p.isDeleteDeferred() && p.SessionMask() == 0 {
			delete(c.providers, name)
		}
	}
}

// Enable records sessionIndex's subscription list and recomputes every
// known provider's union state and every known event's enabled mask.
func (c *Configuration) Enable(sessionIndex int, providers []SessionProviderConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionProviders[sessionIndex] = providers
	c.recomputeAllLocked()
}

// Disable clears sessionIndex's subscription list and recomputes.
func (c *Configuration) Disable(sessionIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionProviders[sessionIndex] = nil
	c.recomputeAllLocked()
}

func (c *Configuration) recomputeAllLocked() {
	for _, p := range c.providers {
		c.recomputeProviderLocked(p)
	}
}

func (c *Configuration) recomputeProviderLocked(p *Provider) {
	var subs []sessionSubscription
	var unionKeywords int64
	var unionLevel Level
	var mask uint64

	for i, list := range c.sessionProviders {
		if list == nil {
			continue
		}
		for _, sp := range list {
			if !matchesProvider(sp.Name, p.Name) {
				continue
			}
			subs = append(subs, sessionSubscription{sessionIndex: i, providerName: sp.Name, keywords: sp.Keywords, level: sp.Level})
			unionKeywords |= sp.Keywords
			if sp.Level > unionLevel {
				unionLevel = sp.Level
			}
			mask |= 1 << uint(i)
		}
	}

	wasEnabled := p.SessionMask() != 0
	nowEnabled := mask != 0
	p.mu.Lock()
	p.sessionMask = mask
	p.keywords = unionKeywords
	p.level = uint32(unionLevel)
	cb := p.callback
	ud := p.userData
	p.mu.Unlock()
	if cb != nil && wasEnabled != nowEnabled {
		cb(p, nowEnabled, uint32(unionLevel), unionKeywords, "", ud)
	}

	for _, e := range p.Events() {
		e.recomputeEnabledMask(subs)
	}
}

// BuildEventMetadataRecord produces the synthetic EventInstance carrying
// [metadata_id: u32][provider_name_utf16_nul][event_metadata_blob],
// timestamped to equal sourceTimestamp so metadata precedes use.
func (c *Configuration) BuildEventMetadataRecord(ev *Event, sourceTimestamp int64, metadataID uint32, captureThreadID uint64) *ringbuf.Record {
	var payload []byte
	payload = appendU32(payload, metadataID)
	payload = append(payload, utf16Nul(ev.Provider.Name)...)
	payload = append(payload, ev.MetadataBlob()...)

	return &ringbuf.Record{
		ThreadID:        captureThreadID,
		CaptureThreadID: captureThreadID,
		Timestamp:       sourceTimestamp,
		MetadataID:      0,
		Payload:         payload,
	}
}

// DecodeMetadataPayload reverses BuildEventMetadataRecord's payload
// layout: [metadata_id: u32][provider_name_utf16_nul][event_metadata_blob].
func DecodeMetadataPayload(payload []byte) (metadataID uint32, providerName string, blob []byte, err error) {
	if len(payload) < 4 {
		return 0, "", nil, fmt.Errorf("eventpipe: metadata payload too short")
	}
	metadataID = binary.LittleEndian.Uint32(payload[0:4])
	rest := payload[4:]

	nameEnd := -1
	for i := 0; i+1 < len(rest); i += 2 {
		if rest[i] == 0 && rest[i+1] == 0 {
			nameEnd = i
			break
		}
	}
	if nameEnd == -1 {
		return 0, "", nil, fmt.Errorf("eventpipe: unterminated provider name in metadata payload")
	}
	u16s := make([]uint16, nameEnd/2)
	for i := range u16s {
		u16s[i] = binary.LittleEndian.Uint16(rest[i*2 : i*2+2])
	}
	providerName = string(utf16.Decode(u16s))
	blob = rest[nameEnd+2:]
	return metadataID, providerName, blob, nil
}

func appendU32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func utf16Nul(s string) []byte {
	u := utf16.Encode([]rune(s))
	b := make([]byte, len(u)*2+2)
	for i, v := range u {
		b[i*2] = byte(v)
		b[i*2+1] = byte(v >> 8)
	}
	return b
}
