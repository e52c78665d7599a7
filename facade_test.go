package eventpipe

import (
	"sync"
	"testing"

	"github.com/ehrlich-b/eventpipe/internal/threadreg"
)

func newReadyFacade(t *testing.T) *EventPipe {
	t.Helper()
	ep := New()
	ep.Init()
	ep.FinishInit()
	return ep
}

// TestSynchronousSessionDeliversSingleEvent grounds the single-event
// synchronous-sink property: one WriteEvent call on an enabled provider
// reaches the session's SyncCallback exactly once, with the payload
// intact.
func TestSynchronousSessionDeliversSingleEvent(t *testing.T) {
	ep := newReadyFacade(t)
	p := ep.Config().CreateProvider("MyApp", nil, nil)
	ev := NewEvent(p, 1, 0, 1, LevelInformational, false, nil)

	var mu sync.Mutex
	var got []byte
	calls := 0
	id, err := ep.Enable(EnableOptions{
		Type:      TypeSynchronous,
		Providers: []SessionProviderConfig{{Name: "MyApp", Keywords: -1, Level: LevelVerbose}},
		SyncCallback: func(ev *Event, payload []byte, activityID, relatedActivityID [16]byte) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			got = payload
		},
	})
	if err != nil {
		t.Fatalf("Enable: %v", err)
	}
	defer ep.Disable(id)

	th := ep.Registry().NewAndRegister()
	defer th.Unregister()

	var zero [16]byte
	ep.WriteEvent(th, ev, []byte("hello"), zero, zero, nil)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("SyncCallback invoked %d times, want 1", calls)
	}
	if string(got) != "hello" {
		t.Errorf("payload = %q, want \"hello\"", got)
	}
}

// TestWriteEventSkipsDisabledEvent confirms the hot-path mask check:
// writes for an event with no matching session are silently dropped.
func TestWriteEventSkipsDisabledEvent(t *testing.T) {
	ep := newReadyFacade(t)
	p := ep.Config().CreateProvider("Unsubscribed", nil, nil)
	ev := NewEvent(p, 1, 0, 1, LevelInformational, false, nil)

	th := ep.Registry().NewAndRegister()
	defer th.Unregister()

	var zero [16]byte
	// No session enabled at all: EnabledMask() == 0, WriteEvent must be
	// a silent no-op rather than panic on a nil session table lookup.
	ep.WriteEvent(th, ev, []byte("x"), zero, zero, nil)
}

// TestMetadataRecordEmittedOnlyOnce grounds the metadata-dedup property:
// calling metadataID on a synchronous session's underlying Session
// repeatedly for the same event assigns exactly one stable per-session
// metadata id, reported as first use only on the first call.
func TestMetadataRecordEmittedOnlyOnce(t *testing.T) {
	ep := newReadyFacade(t)
	p := ep.Config().CreateProvider("MyApp", nil, nil)
	ev := NewEvent(p, 1, 0, 1, LevelInformational, false, nil)

	id, err := ep.Enable(EnableOptions{
		Type:      TypeSynchronous,
		Providers: []SessionProviderConfig{{Name: "MyApp", Keywords: -1, Level: LevelVerbose}},
		SyncCallback: func(ev *Event, payload []byte, activityID, relatedActivityID [16]byte) {
		},
	})
	if err != nil {
		t.Fatalf("Enable: %v", err)
	}
	defer ep.Disable(id)

	ep.mu.Lock()
	sess := ep.sessions[int(id)]
	ep.mu.Unlock()

	firstID, firstUse := sess.metadataID(ev)
	if !firstUse {
		t.Fatalf("first metadataID call should report firstUse=true")
	}
	for i := 0; i < 9; i++ {
		gotID, firstUse := sess.metadataID(ev)
		if firstUse {
			t.Errorf("call %d should not report firstUse again", i)
		}
		if gotID != firstID {
			t.Errorf("call %d returned metadata id %d, want stable %d", i, gotID, firstID)
		}
	}
}

// TestDisableIsIdempotentAndReleasesAllowWrite exercises the write-in-
// progress handshake across repeated enable/disable cycles from
// multiple producer threads, confirming every producer ends idle, the
// allow-write bit is cleared, and a second Disable call is a harmless
// no-op.
func TestDisableIsIdempotentAndReleasesAllowWrite(t *testing.T) {
	ep := newReadyFacade(t)
	p := ep.Config().CreateProvider("MyApp", nil, nil)
	ev := NewEvent(p, 1, 0, 1, LevelInformational, false, nil)

	threads := make([]*threadreg.Thread, 0, 8)
	for i := 0; i < 8; i++ {
		threads = append(threads, ep.Registry().NewAndRegister())
	}
	defer func() {
		for _, th := range threads {
			th.Unregister()
		}
	}()

	for cycle := 0; cycle < 20; cycle++ {
		id, err := ep.Enable(EnableOptions{
			Type:      TypeSynchronous,
			Providers: []SessionProviderConfig{{Name: "MyApp", Keywords: -1, Level: LevelVerbose}},
			SyncCallback: func(ev *Event, payload []byte, activityID, relatedActivityID [16]byte) {
			},
		})
		if err != nil {
			t.Fatalf("cycle %d: Enable: %v", cycle, err)
		}

		var wg sync.WaitGroup
		var zero [16]byte
		for _, th := range threads {
			wg.Add(1)
			go func(th *threadreg.Thread) {
				defer wg.Done()
				ep.WriteEvent(th, ev, []byte("x"), zero, zero, nil)
			}(th)
		}
		wg.Wait()

		if err := ep.Disable(id); err != nil {
			t.Fatalf("cycle %d: Disable: %v", cycle, err)
		}
		// Idempotent second call.
		if err := ep.Disable(id); err != nil {
			t.Fatalf("cycle %d: second Disable: %v", cycle, err)
		}

		if ep.numberOfSessions != 0 {
			t.Fatalf("cycle %d: numberOfSessions = %d, want 0", cycle, ep.numberOfSessions)
		}
		if ep.allowWrite.Load() != 0 {
			t.Fatalf("cycle %d: allowWrite mask = %x, want 0", cycle, ep.allowWrite.Load())
		}
		for _, th := range threads {
			if got := th.WriteInProgress(); got != threadreg.IdleWriteInProgress {
				t.Errorf("cycle %d: thread %d WriteInProgress = %d, want idle", cycle, th.ID(), got)
			}
		}
	}
}

// TestEnableBeforeFinishInitIsDeferred confirms sessions enabled before
// FinishInit are queued and started once the facade is ready, rather
// than silently dropped.
func TestEnableBeforeFinishInitIsDeferred(t *testing.T) {
	ep := New()
	ep.Init()

	p := ep.Config().CreateProvider("MyApp", nil, nil)
	_ = NewEvent(p, 1, 0, 1, LevelInformational, false, nil)

	id, err := ep.Enable(EnableOptions{
		Type:      TypeSynchronous,
		Providers: []SessionProviderConfig{{Name: "MyApp", Keywords: -1, Level: LevelVerbose}},
		SyncCallback: func(ev *Event, payload []byte, activityID, relatedActivityID [16]byte) {
		},
	})
	if err != nil {
		t.Fatalf("Enable: %v", err)
	}

	ep.mu.Lock()
	deferredCount := len(ep.deferredEnable)
	ep.mu.Unlock()
	if deferredCount != 1 {
		t.Fatalf("deferredEnable has %d entries, want 1", deferredCount)
	}

	ep.FinishInit()
	if err := ep.Disable(id); err != nil {
		t.Fatalf("Disable: %v", err)
	}
}
