package ringbuf

import "testing"

func TestPoolGetReturnsZeroedBufferOfRequestedSize(t *testing.T) {
	p := NewPool()
	b := p.Get(100)
	if len(b) != 100 {
		t.Fatalf("Get(100) returned %d bytes, want 100", len(b))
	}
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d = %d, want 0", i, v)
		}
	}
}

func TestPoolGetPutReusesDirtyBuffer(t *testing.T) {
	p := NewPool()
	b := p.Get(bucket30k)
	for i := range b {
		b[i] = 0xFF
	}
	p.Put(b)

	reused := p.Get(bucket30k)
	for i, v := range reused {
		if v != 0 {
			t.Fatalf("reused buffer byte %d = %#x, want zeroed", i, v)
		}
	}
}

func TestPoolGetAboveLargestBucketBypassesPool(t *testing.T) {
	p := NewPool()
	b := p.Get(bucket1m + 1)
	if len(b) != bucket1m+1 {
		t.Fatalf("Get(bucket1m+1) = %d bytes, want %d", len(b), bucket1m+1)
	}
}

func TestPoolPutDropsNonBucketSizedBuffer(t *testing.T) {
	p := NewPool()
	// A one-off slice whose capacity matches no bucket should simply be
	// dropped rather than panicking or corrupting a bucket.
	odd := make([]byte, 12345)
	p.Put(odd)
}
