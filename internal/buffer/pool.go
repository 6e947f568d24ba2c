// Package buffer pools the byte slices used to stream file content through the frontend.
package buffer

import (
	"sync"
)

// Pool hands out byte slices from size buckets. The buckets are fixed at
// construction, so Get and Put need no locking beyond what sync.Pool does.
type Pool struct {
	buckets []bucket
}

type bucket struct {
	size int
	pool *sync.Pool
}

// DefaultSizes covers handle chunks from a page up to a large multipart part.
var DefaultSizes = []int{
	4 << 10,  // 4KB
	16 << 10, // 16KB
	64 << 10, // 64KB, one frontend chunk
	256 << 10,
	1 << 20,
	8 << 20, // 8MB, one S3 multipart part
}

// NewPool creates a pool with the given ascending bucket sizes.
func NewPool(sizes ...int) *Pool {
	if len(sizes) == 0 {
		sizes = DefaultSizes
	}
	p := &Pool{buckets: make([]bucket, 0, len(sizes))}
	for _, size := range sizes {
		size := size
		p.buckets = append(p.buckets, bucket{
			size: size,
			pool: &sync.Pool{New: func() interface{} {
				buf := make([]byte, size)
				return &buf
			}},
		})
	}
	return p
}

// Get returns a slice of length size. Sizes above the largest bucket are
// allocated directly and are not pooled on Put.
func (p *Pool) Get(size int) []byte {
	for _, b := range p.buckets {
		if b.size >= size {
			buf := *(b.pool.Get().(*[]byte))
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// Put returns a slice obtained from Get. The content is cleared so pooled
// buffers never carry file data between callers.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	capacity := cap(buf)
	for _, b := range p.buckets {
		if b.size == capacity {
			buf = buf[:capacity]
			clear(buf)
			b.pool.Put(&buf)
			return
		}
	}
}

// Sizes returns the bucket sizes.
func (p *Pool) Sizes() []int {
	sizes := make([]int, len(p.buckets))
	for i, b := range p.buckets {
		sizes[i] = b.size
	}
	return sizes
}

var defaultPool = NewPool()

// Get gets a buffer from the shared pool
func Get(size int) []byte {
	return defaultPool.Get(size)
}

// Put returns a buffer to the shared pool
func Put(buf []byte) {
	defaultPool.Put(buf)
}
