package frame

import "golang.org/x/sys/unix"

// ProtectPage restricts the host page backing p to the given permissions.
// Used by ktask's guard pages and mmio.SafePtr's rights restriction so a
// Go-level-only invariant is additionally enforced by the host MMU.
func ProtectPage(p Paddr, readable, writable bool) error {
	prot := 0
	if readable {
		prot |= unix.PROT_READ
	}
	if writable {
		prot |= unix.PROT_WRITE
	}
	return globalTable.arena.Protect(p, prot)
}
