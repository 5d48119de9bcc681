// Package bufpool owns a fixed set of fixed-size byte buffers that move
// between the ingest worker, the stream channels and their consumers.
//
// Every buffer has exactly one owner at a time, tracked by a lifecycle Tag:
//
//	Free     held by the pool
//	Filling  held by the ingest worker while a read lands in it
//	Ready    queued in a stream channel
//	InUse    held by a consumer that received it from a channel
//
// Buffers can only be obtained from Pool.Acquire and are returned with
// Pool.Release. Tag transitions are atomic compare-and-swap operations, so
// an illegal transition such as a double release is reported as an error
// rather than handing the same memory to two owners.
package bufpool

import (
	"fmt"

	"go.uber.org/atomic"
)

// Tag is the lifecycle state of a Buffer.
type Tag int32

const (
	Free Tag = iota
	Filling
	Ready
	InUse
)

func (t Tag) String() string {
	switch t {
	case Free:
		return "free"
	case Filling:
		return "filling"
	case Ready:
		return "ready"
	case InUse:
		return "in-use"
	default:
		return fmt.Sprintf("Tag(%d)", int32(t))
	}
}

// Buffer is a handle to one fixed-capacity region of the pool slab.
type Buffer struct {
	pool *Pool
	idx  int
	data []byte
	n    int
	tag  atomic.Int32
}

// Bytes returns the filled part of the buffer. The slice aliases pool
// memory and must not be retained after the buffer is released.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.n]
}

// Len returns the number of bytes in use.
func (b *Buffer) Len() int {
	return b.n
}

// Cap returns the fixed capacity of the buffer.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Tag returns the current lifecycle state.
func (b *Buffer) Tag() Tag {
	return Tag(b.tag.Load())
}

// Scratch returns the whole region for a read to land in. It is only
// meaningful while the buffer is Filling.
func (b *Buffer) Scratch() []byte {
	return b.data
}

// SetLen records how many bytes of Scratch hold data.
func (b *Buffer) SetLen(n int) error {
	if b.Tag() != Filling {
		return fmt.Errorf("set length on %s buffer: %w", b.Tag(), ErrOwnership)
	}
	if n < 0 || n > len(b.data) {
		return fmt.Errorf("length %d outside capacity %d: %w", n, len(b.data), ErrOwnership)
	}
	b.n = n
	return nil
}

// Transition moves the buffer from one state to another. It fails with
// ErrOwnership when the buffer is not in the expected state.
func (b *Buffer) Transition(from, to Tag) error {
	if to == Free {
		return fmt.Errorf("transition to free outside Release: %w", ErrOwnership)
	}
	if !b.tag.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("transition %s->%s on %s buffer: %w", from, to, b.Tag(), ErrOwnership)
	}
	return nil
}

// Pool is a fixed-size set of buffers carved out of one contiguous slab.
// Acquire and Release are O(1) and never block.
type Pool struct {
	slab    []byte
	buffers []*Buffer
	free    chan *Buffer
	size    int
}

// New creates a pool of count buffers of size bytes each.
func New(count, size int) (*Pool, error) {
	if count <= 0 {
		return nil, fmt.Errorf("buffer count %d: %w", count, ErrInvalidSize)
	}
	if size <= 0 {
		return nil, fmt.Errorf("buffer size %d: %w", size, ErrInvalidSize)
	}

	p := &Pool{
		slab:    make([]byte, count*size),
		buffers: make([]*Buffer, count),
		free:    make(chan *Buffer, count),
		size:    size,
	}
	for i := range p.buffers {
		lo, hi := i*size, (i+1)*size
		b := &Buffer{pool: p, idx: i, data: p.slab[lo:hi:hi]}
		p.buffers[i] = b
		p.free <- b
	}
	return p, nil
}

// Acquire hands out a free buffer marked Filling. It returns ErrExhausted
// immediately when every buffer is owned elsewhere.
func (p *Pool) Acquire() (*Buffer, error) {
	select {
	case b := <-p.free:
		// Only Release puts buffers on the free list, and it marks them
		// Free before doing so.
		b.tag.Store(int32(Filling))
		b.n = 0
		return b, nil
	default:
		return nil, ErrExhausted
	}
}

// Release resets a buffer and returns it to the pool, whatever state it was
// in. Releasing a buffer that is already free fails with ErrDoubleRelease.
func (p *Pool) Release(b *Buffer) error {
	if b == nil {
		return ErrNilBuffer
	}
	if b.pool != p {
		return ErrForeignBuffer
	}
	for {
		cur := b.tag.Load()
		if Tag(cur) == Free {
			return ErrDoubleRelease
		}
		if b.tag.CompareAndSwap(cur, int32(Free)) {
			break
		}
	}
	b.n = 0
	p.free <- b
	return nil
}

// Available returns the number of free buffers.
func (p *Pool) Available() int {
	return len(p.free)
}

// Size returns the number of buffers in the pool.
func (p *Pool) Size() int {
	return len(p.buffers)
}

// BufferSize returns the capacity of each buffer.
func (p *Pool) BufferSize() int {
	return p.size
}
