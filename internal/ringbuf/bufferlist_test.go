package ringbuf

import "testing"

func TestBufferListOrderingAndRemoval(t *testing.T) {
	l := NewBufferList()
	if l.Head() != nil || l.Tail() != nil {
		t.Fatalf("empty list should have nil Head/Tail")
	}

	b1 := NewBuffer(64, 1, 0, GuardNone, 0)
	b2 := NewBuffer(64, 1, 0, GuardNone, 0)
	l.Append(b1)
	l.Append(b2)

	if l.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", l.Count())
	}
	if l.Head() != b1 {
		t.Errorf("Head() did not return the first appended buffer")
	}
	if l.Tail() != b2 {
		t.Errorf("Tail() did not return the last appended buffer")
	}

	got := l.GetAndRemoveHead()
	if got != b1 {
		t.Errorf("GetAndRemoveHead() returned the wrong buffer")
	}
	if l.Count() != 1 {
		t.Errorf("Count() after removal = %d, want 1", l.Count())
	}
	if l.Head() != b2 {
		t.Errorf("Head() after removal = %v, want b2", l.Head())
	}
}

func TestBufferListCheckIntegrity(t *testing.T) {
	l := NewBufferList()
	b1 := NewBuffer(64, 1, 0, GuardNone, 0)
	b2 := NewBuffer(64, 1, 0, GuardNone, 0)
	l.Append(b1)
	l.Append(b2)

	// Tail still writable, head not yet converted: violates the
	// only-tail-may-be-writable invariant.
	if l.CheckIntegrity() {
		t.Errorf("CheckIntegrity should fail while a non-tail buffer is still writable")
	}

	b1.ConvertToReadOnly()
	if !l.CheckIntegrity() {
		t.Errorf("CheckIntegrity should pass once only the tail is writable")
	}
}

func TestBufferListSequenceNumberBookkeeping(t *testing.T) {
	l := NewBufferList()
	if l.LastReadSequenceNumber() != 0 {
		t.Fatalf("fresh list should start at sequence number 0")
	}
	l.SetLastReadSequenceNumber(42)
	if l.LastReadSequenceNumber() != 42 {
		t.Errorf("LastReadSequenceNumber() = %d, want 42", l.LastReadSequenceNumber())
	}
}
