// Package bufpool hands the mdsftp read loop a reusable byte slice for each
// incoming frame's payload instead of allocating one per frame.
//
// Frame sizes on an mdsftp connection are heavily bimodal: most packets are
// small control frames (lock requests, directory entries, acks), while chunk
// transfer frames carry large bodies. The pool keeps one sync.Pool per size
// class so the common small-frame path reuses a buffer instead of growing
// the heap on every control message, and falls back to a direct allocation
// for anything bigger than the largest class so one oversized transfer
// doesn't pin a giant buffer in the pool forever.
package bufpool

import "sync"

// Size classes a requested buffer is rounded up into.
const (
	// SmallClass covers control frames: lock/ack/error payloads.
	SmallClass = 4 << 10
	// MediumClass covers directory listings and batched metadata frames.
	MediumClass = 64 << 10
	// LargeClass covers chunk transfer bodies.
	LargeClass = 1 << 20
)

// Pool is a set of size-classed byte slice pools.
type Pool struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool
}

// NewPool constructs a Pool with the package's default size classes.
func NewPool() *Pool {
	p := &Pool{}
	p.small = sync.Pool{New: func() any { b := make([]byte, SmallClass); return &b }}
	p.medium = sync.Pool{New: func() any { b := make([]byte, MediumClass); return &b }}
	p.large = sync.Pool{New: func() any { b := make([]byte, LargeClass); return &b }}
	return p
}

// Get returns a slice of exactly size bytes, backed by a pooled buffer when
// size fits within LargeClass. The caller must return it via Put once the
// frame has been dispatched and the buffer is no longer referenced.
func (p *Pool) Get(size int) []byte {
	var slot *sync.Pool
	switch {
	case size <= SmallClass:
		slot = &p.small
	case size <= MediumClass:
		slot = &p.medium
	case size <= LargeClass:
		slot = &p.large
	default:
		return make([]byte, size)
	}
	bufPtr := slot.Get().(*[]byte)
	return (*bufPtr)[:size]
}

// Put returns buf to the pool matching its capacity. Buffers whose capacity
// doesn't line up with one of the size classes (oversized allocations, or
// slices sliced down from a pooled buffer before being handed here) are
// dropped and left for the garbage collector.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	full := buf[:cap(buf)]
	switch cap(buf) {
	case SmallClass:
		p.small.Put(&full)
	case MediumClass:
		p.medium.Put(&full)
	case LargeClass:
		p.large.Put(&full)
	}
}

var global = NewPool()

// Get returns a payload-sized buffer from the package-level pool.
func Get(size int) []byte { return global.Get(size) }

// Put returns a buffer obtained from Get back to the package-level pool.
func Put(buf []byte) { global.Put(buf) }
