// Package frame implements the physical frame allocator: a two-phase
// bootstrap (an early bump allocator, replaced once add_free_memory runs by
// a free-extent registry) handing out reference-counted, typed-metadata
// handles to individual physical pages.
package frame

import (
	"github.com/sirupsen/logrus"

	"kerrors"
)

const (
	PageShift = 12
	PageSize  = 1 << PageShift
)

// Paddr is a physical address. Frame-aligned values are always multiples of
// PageSize.
type Paddr uint64

var log = logrus.WithField("subsystem", "frame")

// Frame is a reference-counted handle to a single physical page carrying
// metadata of type M. Two live Frame values with equal Paddr share the same
// underlying metadata instance (invariant 2).
type Frame[M AnyFrameMeta] struct {
	paddr Paddr
}

// Paddr returns the frame's physical address. It is always PageSize-aligned
// and below the end of simulated physical memory (invariant 1), enforced at
// construction time.
func (f Frame[M]) Paddr() Paddr { return f.paddr }

// Meta returns the frame's metadata. It panics if the stored metadata is not
// of type M, which indicates a caller used the wrong Frame[M] instantiation
// for this page.
func (f Frame[M]) Meta() M {
	s := globalTable.slotFor(f.paddr)
	m, ok := s.meta.(M)
	if !ok {
		panic("frame: metadata type mismatch")
	}
	return m
}

// Clone increments the frame's refcount and returns a new handle sharing the
// same page.
func (f Frame[M]) Clone() Frame[M] {
	globalTable.incRef(f.paddr)
	return f
}

// Drop decrements the frame's refcount. When it reaches zero, the metadata's
// OnDrop runs and the page is returned to the allocator.
func (f Frame[M]) Drop() {
	globalTable.decRef(f.paddr)
}

// IntoRaw consumes the handle's logical ownership without touching the
// refcount, yielding the bare physical address. Paired with FromRaw this
// implements the spec's from_raw(into_raw(f)) round trip.
func (f Frame[M]) IntoRaw() Paddr { return f.paddr }

// FromRaw reclaims a handle previously released with IntoRaw. It does not
// touch the refcount; ownership bookkeeping is the caller's responsibility,
// exactly as with the original's raw pointer pair.
func FromRaw[M AnyFrameMeta](p Paddr) Frame[M] {
	return Frame[M]{paddr: p}
}

// Bytes returns the raw page contents backing the frame, for readers that
// need direct byte access (e.g. the page table's node storage).
func (f Frame[M]) Bytes() []byte {
	return globalTable.arena.Bytes(f.paddr)
}

// Alloc allocates a single frame and installs meta as its metadata. It fails
// with NoMemory if no page is available.
func Alloc[M AnyFrameMeta](o *FrameAllocOptions, meta M) (Frame[M], kerrors.Err_t) {
	if !isRegistered[M]() {
		panic("frame: metadata type used without RegisterMeta")
	}
	p, ok := globalTable.allocPages(1, o.align)
	if !ok {
		return Frame[M]{}, kerrors.NoMemory
	}
	if o.zeroed {
		b := globalTable.arena.Bytes(p)
		for i := range b {
			b[i] = 0
		}
	}
	globalTable.install(p, meta)
	return Frame[M]{paddr: p}, kerrors.OK
}

// atomicSlot is one physical page's bookkeeping entry.
type atomicSlot struct {
	refcount int64
	meta     AnyFrameMeta
}
