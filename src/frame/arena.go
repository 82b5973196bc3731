package frame

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// arena is the hosted stand-in for physical memory. A real architecture port
// satisfies GlobalFrameAllocator against actual DRAM; here an anonymous
// mmap'd region backs every Paddr so mmio.SafePtr's rights enforcement can
// use mprotect on real pages rather than bookkeeping alone.
type arena struct {
	mem  []byte
	base Paddr
}

func newArena(size uint64) (*arena, error) {
	size = uint64(alignUp(size, PageSize))
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("frame: mmap arena of %d bytes: %w", size, err)
	}
	return &arena{mem: mem, base: 0}, nil
}

// Bytes returns the byte slice backing the page at p, one PageSize long.
func (a *arena) Bytes(p Paddr) []byte {
	off := uint64(p - a.base)
	return a.mem[off : off+PageSize]
}

// Protect restricts host access permissions on the page at p. Used by the
// guard-page mechanism in ktask and by mmio.SafePtr's rights restriction.
func (a *arena) Protect(p Paddr, prot int) error {
	off := uint64(p - a.base)
	return unix.Mprotect(a.mem[off:off+PageSize], prot)
}

func (a *arena) Close() error {
	if a.mem == nil {
		return nil
	}
	err := unix.Munmap(a.mem)
	a.mem = nil
	return err
}

func alignUp(v uint64, b uint64) uint64 {
	return (v + b - 1) / b * b
}

func alignDown(v uint64, b uint64) uint64 {
	return v / b * b
}
