package pgtable

import "kerrors"

// CreateUserPageTable duplicates the kernel half of t's root node into a
// fresh user page table. Only root-level entries covering the upper half
// of the address space are shallow-copied (the entries still point at the
// same child nodes, which are never mutated by a later map into user
// space); the lower half starts out empty.
//
// This is a free function, not a method, because Go does not allow a
// generic type's method to be specialized to one instantiation of its type
// parameter (PageTable[KernelMode]) — only PageTable[M]'s own methods can
// be declared with the type parameter left generic.
func CreateUserPageTable(t *PageTable[KernelMode]) (*PageTable[UserMode], kerrors.Err_t) {
	n := NrSubpagePerHuge(t.consts)
	root, errt := AllocNode(t.consts, t.consts.NrLevels(), NotApplicable)
	if errt != kerrors.OK {
		return nil, errt
	}
	t.root.Lock()
	for i := n / 2; i < n; i++ {
		pte := t.root.ReadEntry(i)
		if pte.IsPresent() {
			root.WriteEntry(i, pte)
		}
	}
	t.root.Unlock()
	return &PageTable[UserMode]{root: root, consts: t.consts}, kerrors.OK
}

// MakeSharedTables lazily populates the kernel-half root slots in
// [rootIndexStart, rootIndexEnd) so that every future CreateUserPageTable
// observes the same mappings without per-map synchronization: once a slot
// holds a child node, CreateUserPageTable's shallow copy makes every user
// page table point at that same node.
func MakeSharedTables(t *PageTable[KernelMode], rootIndexStart, rootIndexEnd int) kerrors.Err_t {
	n := int(NrSubpagePerHuge(t.consts))
	if rootIndexStart < n/2 || rootIndexEnd > n {
		return kerrors.InvalidArgs
	}
	t.root.Lock()
	defer t.root.Unlock()
	for i := rootIndexStart; i < rootIndexEnd; i++ {
		idx := uint64(i)
		if t.root.ReadEntry(idx).IsPresent() {
			continue
		}
		child, errt := AllocNode(t.consts, t.consts.NrLevels()-1, Untracked)
		if errt != kerrors.OK {
			return errt
		}
		t.root.WriteEntry(idx, NewPtPte(uintptr(child.Paddr())))
	}
	return kerrors.OK
}

// ClearUserHalf removes every mapping in the lower (user) half of the
// kernel page table's root, used when tearing down shared state.
func ClearUserHalf(t *PageTable[KernelMode]) {
	n := NrSubpagePerHuge(t.consts)
	t.root.Lock()
	defer t.root.Unlock()
	for i := uint64(0); i < n/2; i++ {
		if t.root.ReadEntry(i).IsPresent() {
			t.root.WriteEntry(i, NewAbsentPte())
		}
	}
}
