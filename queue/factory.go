package queue

import "sync"

// Factory is the pooled allocator collaborator an IoQueue owns: acquire a
// fixed-size slice, release it back when a buffer is torn down.
type Factory interface {
	New(size int) []byte
	Release(buf []byte)
}

// PooledFactory is a size-classed sync.Pool allocator: each power-of-two
// bucket gets its own pool, so payloads of wildly different sizes don't
// thrash a single pool's free list. Grounded in tredeske-u/uio's BytesPool
// (a single fixed-size sync.Pool wrapper), generalized to the variable
// payload sizes IoQueue.CreateBuffer is called with.
type PooledFactory struct {
	pools sync.Map // bucket size (int) -> *sync.Pool
}

// NewPooledFactory returns a ready-to-use Factory.
func NewPooledFactory() *PooledFactory {
	return &PooledFactory{}
}

func bucketFor(n int) int {
	b := 64
	for b < n {
		b <<= 1
	}
	return b
}

func (f *PooledFactory) poolFor(bucket int) *sync.Pool {
	if p, ok := f.pools.Load(bucket); ok {
		return p.(*sync.Pool)
	}
	p := &sync.Pool{
		New: func() interface{} {
			buf := make([]byte, bucket)
			return &buf
		},
	}
	actual, _ := f.pools.LoadOrStore(bucket, p)
	return actual.(*sync.Pool)
}

// New returns a slice of exactly size bytes, backed by a pooled buffer of
// the next power-of-two bucket.
func (f *PooledFactory) New(size int) []byte {
	if size <= 0 {
		return nil
	}
	bucket := bucketFor(size)
	p := f.poolFor(bucket).Get().(*[]byte)
	return (*p)[:size]
}

// Release returns buf to the pool sized for its capacity.
func (f *PooledFactory) Release(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	bucket := bucketFor(cap(buf))
	full := buf[:cap(buf)]
	f.poolFor(bucket).Put(&full)
}
