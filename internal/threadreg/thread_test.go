package threadreg

import (
	"testing"

	"github.com/ehrlich-b/eventpipe/internal/activity"
)

func TestRegistryRegisterSnapshotUnregister(t *testing.T) {
	r := NewRegistry()
	t1 := r.NewAndRegister()
	t2 := r.NewAndRegister()

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() returned %d threads, want 2", len(snap))
	}

	r.Unregister(t1)
	if !t1.IsUnregistered() {
		t.Errorf("t1 should be flagged unregistered")
	}
	snap = r.Snapshot()
	if len(snap) != 1 || snap[0] != t2 {
		t.Fatalf("Snapshot() after unregister = %v, want [t2]", snap)
	}
}

func TestThreadSessionStateLifecycle(t *testing.T) {
	th := NewThread()
	if th.SessionState(0) != nil {
		t.Fatalf("fresh thread should have no session state")
	}

	tss := th.GetOrCreateSessionState(0)
	if tss.Thread != th || tss.SessionIndex != 0 {
		t.Errorf("GetOrCreateSessionState returned wrong linkage: %+v", tss)
	}
	if again := th.GetOrCreateSessionState(0); again != tss {
		t.Errorf("GetOrCreateSessionState should return the same state on repeat calls")
	}

	th.ClearSessionState(0)
	if th.SessionState(0) != nil {
		t.Errorf("ClearSessionState should drop the state")
	}
}

func TestThreadWriteInProgressHandshake(t *testing.T) {
	th := NewThread()
	if th.WriteInProgress() != IdleWriteInProgress {
		t.Fatalf("fresh thread should be idle")
	}
	th.BeginWrite(3)
	if th.WriteInProgress() != 3 {
		t.Errorf("WriteInProgress() = %d, want 3", th.WriteInProgress())
	}
	th.EndWrite()
	if th.WriteInProgress() != IdleWriteInProgress {
		t.Errorf("WriteInProgress() after EndWrite = %d, want idle", th.WriteInProgress())
	}
}

func TestThreadActivityIDDefaultsAndUpdates(t *testing.T) {
	th := NewThread()
	first := th.ActivityID()

	if first == activity.Zero {
		t.Errorf("NewThread should mint a non-zero activity id")
	}

	next := activity.New()
	th.SetActivityID(next)
	if th.ActivityID() != next {
		t.Errorf("SetActivityID did not stick")
	}
}
