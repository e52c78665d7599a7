package ringbuf

import "sync"

// Pool recycles the underlying []byte backing Buffer allocations.
// Size-bucketed like the allocation granularities the buffer manager
// actually requests (30 KiB in checked/test builds, 100 KiB increments,
// capped at 1 MiB) so hot-path allocation churn stays low without
// pooling every odd size a caller might request.
type Pool struct {
	bucket30k  sync.Pool
	bucket100k sync.Pool
	bucket500k sync.Pool
	bucket1m   sync.Pool
}

const (
	bucket30k  = 30 * 1024
	bucket100k = 100 * 1024
	bucket500k = 500 * 1024
	bucket1m   = 1024 * 1024
)

// NewPool creates an empty, ready-to-use buffer pool.
func NewPool() *Pool {
	p := &Pool{}
	p.bucket30k.New = func() any { b := make([]byte, bucket30k); return &b }
	p.bucket100k.New = func() any { b := make([]byte, bucket100k); return &b }
	p.bucket500k.New = func() any { b := make([]byte, bucket500k); return &b }
	p.bucket1m.New = func() any { b := make([]byte, bucket1m); return &b }
	return p
}

func (p *Pool) bucketFor(size int) *sync.Pool {
	switch {
	case size <= bucket30k:
		return &p.bucket30k
	case size <= bucket100k:
		return &p.bucket100k
	case size <= bucket500k:
		return &p.bucket500k
	default:
		return &p.bucket1m
	}
}

// Get returns a zeroed byte slice of at least size bytes from the
// matching bucket, or a fresh allocation for sizes above the largest
// bucket.
func (p *Pool) Get(size int) []byte {
	if size > bucket1m {
		return make([]byte, size)
	}
	bucket := p.bucketFor(size)
	b := *bucket.Get().(*[]byte)
	for i := range b {
		b[i] = 0
	}
	return b[:size]
}

// Put returns a buffer to the pool matching its capacity. Buffers with
// a non-bucket capacity (oversized one-off allocations) are dropped.
func (p *Pool) Put(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case bucket30k:
		p.bucket30k.Put(&buf)
	case bucket100k:
		p.bucket100k.Put(&buf)
	case bucket500k:
		p.bucket500k.Put(&buf)
	case bucket1m:
		p.bucket1m.Put(&buf)
	}
}
