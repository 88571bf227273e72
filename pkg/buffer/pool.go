package buffer

import "sync/atomic"

// freeNode is one link in the lock-free free list of recycled cursors.
type freeNode struct {
	cursor *Cursor
	next   *freeNode
}

// Pool wraps one underlying Region and manufactures lightweight Cursor
// views over it, as specified in §4.1. Acquire increments the Region's
// refcount and returns a fresh-or-recycled Cursor; Release (via Cursor.Close)
// decrements the refcount and returns the Cursor to the free list. The free
// list is a Treiber stack (CAS-protected, lock-free), matching the "lock-free
// or CAS-protected queue" requirement.
type Pool struct {
	region *Region
	head   atomic.Pointer[freeNode]
}

// NewPool creates a Pool bound to region. The pool does not own region's
// initial reference; callers should Acquire/Release region themselves for
// any reference outside the pool's own bookkeeping.
func NewPool(region *Region) *Pool {
	return &Pool{region: region}
}

// Acquire increments the region's refcount and returns a Cursor view,
// reusing one from the free list when available.
func (p *Pool) Acquire() *Cursor {
	p.region.Acquire()
	for {
		n := p.head.Load()
		if n == nil {
			c := newCursor(p.region, p.region.Len())
			c.pool = p
			return c
		}
		if p.head.CompareAndSwap(n, n.next) {
			n.cursor.reset(p.region, p.region.Len())
			n.cursor.pool = p
			return n.cursor
		}
	}
}

// release is invoked by Cursor.Close; it decrements the region's refcount and
// pushes the cursor back onto the free list for reuse.
func (p *Pool) release(c *Cursor) error {
	err := p.region.Release()
	n := &freeNode{cursor: c}
	for {
		head := p.head.Load()
		n.next = head
		if p.head.CompareAndSwap(head, n) {
			return err
		}
	}
}

// Region exposes the pool's backing region, e.g. so a caller can inspect its
// current length.
func (p *Pool) Region() *Region { return p.region }
