package eventpipe

import (
	"sync"
	"unicode/utf16"
)

// ProviderCallback is invoked when a provider's effective
// enable/disable state changes for some session.
type ProviderCallback func(p *Provider, isEnabled bool, level uint32, keywords int64, filterData string, userData any)

// Provider is a named namespace owning a set of Events, with a mutable
// (keywords, level) pair reflecting the union across active sessions.
type Provider struct {
	Name     string
	nameUTF16 []byte

	mu           sync.Mutex
	keywords     int64
	level        uint32
	sessionMask  uint64 // bit i set iff session i is currently subscribed
	events       []*Event
	callback     ProviderCallback
	userData     any
	deleteDeferred bool
}

func newProvider(name string, cb ProviderCallback, userData any) *Provider {
	u := utf16.Encode([]rune(name))
	buf := make([]byte, len(u)*2+2)
	for i, v := range u {
		buf[i*2] = byte(v)
		buf[i*2+1] = byte(v >> 8)
	}
	return &Provider{Name: name, nameUTF16: buf, callback: cb, userData: userData}
}

// NameUTF16 returns the provider's name encoded as UTF-16LE, nul-terminated.
func (p *Provider) NameUTF16() []byte {
	return p.nameUTF16
}

// Keywords returns the provider's current union keyword mask.
func (p *Provider) Keywords() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keywords
}

// Level returns the provider's current union level.
func (p *Provider) Level() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// SessionMask returns the bitmask of sessions currently subscribed.
func (p *Provider) SessionMask() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionMask
}

// Events returns a snapshot of the provider's owned events.
func (p *Provider) Events() []*Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Event, len(p.events))
	copy(out, p.events)
	return out
}

// addEvent appends e to p's event list (NewEvent calls it). It does not
// compute e's enable mask: an Event created after a session enabled p
// stays disabled until the configuration next recomputes p on
// Configuration.Enable or Disable.
func (p *Provider) addEvent(e *Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *Provider) markDeleteDeferred() {
	p.mu.Lock()
	p.deleteDeferred = true
	p.mu.Unlock()
}

func (p *Provider) isDeleteDeferred() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deleteDeferred
}
