package pgtable

import (
	"sync"

	"kerrors"
)

// KVirtArea is a reservation of kernel virtual address space: spec.md names
// KVirtAreaAllocError but does not specify an allocator, so this is a
// minimal bump-style reservation within the kernel half of the address
// space, giving that error a producer. No other code in this module calls
// ReserveKVirtArea, and reservations are never released.
type KVirtArea struct {
	start, end uintptr
}

type kvirtAllocator struct {
	mu   sync.Mutex
	next uintptr
	end  uintptr
}

var kvirt = &kvirtAllocator{next: KernelVaddrStart, end: KernelVaddrEnd}

// ReserveKVirtArea reserves a size-byte, page-aligned range of kernel
// virtual address space. Returns KVirtAreaAllocError if the reservation
// would exceed the kernel half of the address space.
func ReserveKVirtArea(size uintptr) (KVirtArea, kerrors.Err_t) {
	size = (size + DefaultConsts.BasePageSize() - 1) &^ (DefaultConsts.BasePageSize() - 1)
	kvirt.mu.Lock()
	defer kvirt.mu.Unlock()
	if kvirt.next+size > kvirt.end || kvirt.next+size < kvirt.next {
		return KVirtArea{}, kerrors.KVirtAreaAllocError
	}
	area := KVirtArea{start: kvirt.next, end: kvirt.next + size}
	kvirt.next += size
	return area, kerrors.OK
}

// Start returns the reservation's first virtual address.
func (a KVirtArea) Start() uintptr { return a.start }

// Len returns the reservation's size in bytes.
func (a KVirtArea) Len() uintptr { return a.end - a.start }
