// Package kheap implements the slab-tiered heap allocator with a
// power-of-two buddy allocator as its fallback for large or over-aligned
// requests, following the original's split-on-alloc, XOR-buddy-merge-on-
// free algorithm.
package kheap

import (
	"sync"

	"util"
)

const (
	PageSize = 4096
	MaxOrder = 32
)

// buddyAllocator manages a PageSize-aligned byte region as a binary buddy
// system. Addresses are offsets into the region, not raw pointers: this
// substrate backs the heap arena with a plain Go byte slice rather than
// simulated physical memory, since heap bytes never need to look like real
// DRAM the way frame pages do.
type buddyAllocator struct {
	mu      sync.Mutex
	backing []byte
	order   int // log2(len(backing)/PageSize), capped at MaxOrder
	free    [MaxOrder + 1][]uintptr
}

func newBuddyAllocator(sizeBytes uintptr) *buddyAllocator {
	sizeBytes = util.Roundup(sizeBytes, uintptr(PageSize))
	order := util.Log2Ceil(sizeBytes / PageSize)
	if order > MaxOrder {
		order = MaxOrder
	}
	sizeBytes = uintptr(1) << order * PageSize
	b := &buddyAllocator{
		backing: make([]byte, sizeBytes),
		order:   order,
	}
	b.free[order] = []uintptr{0}
	return b
}

// Alloc reserves a PageSize-aligned block of at least sizeBytes, returning
// its offset into the backing region.
func (b *buddyAllocator) Alloc(sizeBytes uintptr) (uintptr, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	need := util.Roundup(sizeBytes, uintptr(PageSize)) / PageSize
	want := util.Log2Ceil(need)

	o := want
	for o <= b.order && len(b.free[o]) == 0 {
		o++
	}
	if o > b.order {
		return 0, false
	}

	blk := b.free[o][len(b.free[o])-1]
	b.free[o] = b.free[o][:len(b.free[o])-1]

	for o > want {
		o--
		buddy := blk + (uintptr(1) << o * PageSize)
		b.free[o] = append(b.free[o], buddy)
	}
	return blk, true
}

// Dealloc returns a block previously obtained from Alloc with the same
// sizeBytes, merging with its buddy (found by the XOR of the block's order
// bit) whenever that buddy is also free.
func (b *buddyAllocator) Dealloc(offset uintptr, sizeBytes uintptr) {
	b.mu.Lock()
	defer b.mu.Unlock()

	need := util.Roundup(sizeBytes, uintptr(PageSize)) / PageSize
	o := util.Log2Ceil(need)
	blk := offset

	for o < b.order {
		buddyAddr := blk ^ (uintptr(1) << o * PageSize)
		idx := -1
		for i, a := range b.free[o] {
			if a == buddyAddr {
				idx = i
				break
			}
		}
		if idx == -1 {
			break
		}
		b.free[o] = append(b.free[o][:idx:idx], b.free[o][idx+1:]...)
		if buddyAddr < blk {
			blk = buddyAddr
		}
		o++
	}
	b.free[o] = append(b.free[o], blk)
}

// FreePages reports the number of PageSize blocks currently free, summed
// across every order.
func (b *buddyAllocator) FreePages() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total uint64
	for o, list := range b.free {
		total += uint64(len(list)) << uint(o)
	}
	return total
}
