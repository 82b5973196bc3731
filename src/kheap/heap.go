package kheap

import (
	"sync"

	"kerrors"
)

// maxSlabSize is the largest request a slab tier will serve; anything
// larger, or requiring alignment stricter than a page, goes straight to the
// buddy allocator.
const maxSlabSize = 4096

// allocation records which allocator owns an outstanding block, so Free can
// route it back without the caller having to remember.
type allocation struct {
	size uintptr
	tier int // index into tiers, or -1 for a direct buddy allocation
}

// Heap is a general-purpose allocator: small, fixed-size requests are
// served from one of several slab tiers (each grown a page at a time from
// the buddy allocator), and everything else goes directly to the buddy
// allocator.
type Heap struct {
	buddy *buddyAllocator
	tiers [len(slabSizes)]*slabTier

	mu        sync.Mutex
	allocated map[uintptr]allocation
}

// NewHeap creates a heap backed by a buddy-managed arena of totalBytes.
func NewHeap(totalBytes uintptr) *Heap {
	b := newBuddyAllocator(totalBytes)
	h := &Heap{buddy: b, allocated: make(map[uintptr]allocation)}
	for i, sz := range slabSizes {
		h.tiers[i] = newSlabTier(sz, b)
	}
	return h
}

// layoutToAllocator picks the smallest slab tier that can satisfy size and
// align, or -1 if the request must go to the buddy allocator directly.
func (h *Heap) layoutToAllocator(size, align uintptr) int {
	if size > maxSlabSize || align > maxSlabSize {
		return -1
	}
	for i, sz := range slabSizes {
		if sz >= size && sz >= align {
			return i
		}
	}
	return -1
}

// Alloc reserves a block of at least size bytes, aligned to align, and
// returns its offset into the heap's backing arena.
func (h *Heap) Alloc(size, align uintptr) (uintptr, kerrors.Err_t) {
	if size == 0 {
		size = 1
	}
	idx := h.layoutToAllocator(size, align)
	if idx == -1 {
		// A buddy block is aligned to its own size, so asking for at
		// least align bytes yields an align-aligned block.
		if align > size {
			size = align
		}
		off, ok := h.buddy.Alloc(size)
		if !ok {
			return 0, kerrors.NoMemory
		}
		h.record(off, allocation{size: size, tier: -1})
		return off, kerrors.OK
	}

	off, ok := h.tiers[idx].alloc()
	if !ok {
		return 0, kerrors.NoMemory
	}
	h.record(off, allocation{size: slabSizes[idx], tier: idx})
	return off, kerrors.OK
}

func (h *Heap) record(off uintptr, a allocation) {
	h.mu.Lock()
	h.allocated[off] = a
	h.mu.Unlock()
}

// Free returns a block previously obtained from Alloc. It panics on a
// double free or on an offset this heap never allocated, mirroring the
// allocator-abuse invariant enforced throughout this substrate.
func (h *Heap) Free(off uintptr) {
	h.mu.Lock()
	a, ok := h.allocated[off]
	if ok {
		delete(h.allocated, off)
	}
	h.mu.Unlock()

	if !ok {
		panic("kheap: free of unknown or already-freed block")
	}
	if a.tier == -1 {
		h.buddy.Dealloc(off, a.size)
		return
	}
	h.tiers[a.tier].free(off)
}

// Bytes returns the byte slice backing offset off, sized for the caller's
// allocation; it is a window into the heap's arena, valid until the next
// Free of the same offset.
func (h *Heap) Bytes(off uintptr, n uintptr) []byte {
	return h.buddy.backing[off : off+n]
}

// Stats summarizes the heap's current occupancy.
type Stats struct {
	LiveAllocations int
	FreePages       uint64
	TierFreeBlocks  [len(slabSizes)]int
}

// Snapshot reports the heap's current Stats.
func (h *Heap) Snapshot() Stats {
	h.mu.Lock()
	live := len(h.allocated)
	h.mu.Unlock()

	s := Stats{LiveAllocations: live, FreePages: h.buddy.FreePages()}
	for i, t := range h.tiers {
		s.TierFreeBlocks[i] = t.freeBlocks()
	}
	return s
}
