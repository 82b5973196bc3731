package pgtable

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"frame"
	"kerrors"
)

var log = logrus.WithField("subsystem", "pgtable")

// DefaultConsts is the paging layout used throughout this package; a real
// architecture port would plug in its own PagingConstsTrait/PteTrait pair
// instead.
var DefaultConsts PagingConstsTrait = Consts{}

// PageTableError reports a malformed request to a page table operation.
type PageTableError struct {
	msg string
}

func (e *PageTableError) Error() string { return e.msg }

func errInvalidRange(start, end uintptr) error {
	return &PageTableError{fmt.Sprintf("invalid vaddr range [%#x, %#x)", start, end)}
}

func errUnaligned(v uintptr) error {
	return &PageTableError{fmt.Sprintf("unaligned vaddr %#x", v)}
}

// PageTable is a handle to a page table tree, parameterized by mode to
// statically distinguish a kernel page table from a user page table.
type PageTable[M PageTableMode] struct {
	root   *PageTableNode
	consts PagingConstsTrait

	hugeSplits int64
	hugeMerges int64
}

// HugeSplits returns the number of times a huge mapping has been split
// into a full child node to honor a finer-grained map/protect/unmap.
func (t *PageTable[M]) HugeSplits() int64 { return atomic.LoadInt64(&t.hugeSplits) }

// HugeMerges returns the number of times a fully-uniform child node was
// collapsed back into a single huge mapping.
func (t *PageTable[M]) HugeMerges() int64 { return atomic.LoadInt64(&t.hugeMerges) }

// Empty creates a new, entirely-absent page table. Useful for the kernel
// page table and device/IOMMU page tables.
func Empty[M PageTableMode]() (*PageTable[M], kerrors.Err_t) {
	var m M
	root, errt := AllocNode(DefaultConsts, DefaultConsts.NrLevels(), NotApplicable)
	if errt != kerrors.OK {
		return nil, errt
	}
	_ = m
	return &PageTable[M]{root: root, consts: DefaultConsts}, kerrors.OK
}

// RootPaddr returns the physical address of the root node.
func (t *PageTable[M]) RootPaddr() frame.Paddr { return t.root.Paddr() }

// ShallowCopy returns a new handle to the same root node.
func (t *PageTable[M]) ShallowCopy() *PageTable[M] {
	return &PageTable[M]{root: t.root.CloneShallow(), consts: t.consts}
}

func (t *PageTable[M]) coversRange(start, end uintptr) bool {
	var m M
	return m.Covers(start, end)
}

// isKernelMode reports whether M is KernelMode, so Protect can additionally
// broadcast-invalidate the way a real kernel-mode TLB shootdown must: every
// other CPU may be caching the old permissions for a kernel mapping, not
// just the one doing the protect.
func (t *PageTable[M]) isKernelMode() bool {
	var m M
	_, ok := any(m).(KernelMode)
	return ok
}

// Map installs a mapping for [vaddr, vaddr+len) to the physical range
// starting at paddr, with the given property, using huge pages wherever
// alignment and length allow. Map never merges existing mappings; that is
// TryMergeUniformChildren's job.
func (t *PageTable[M]) Map(vaddr, length uintptr, paddr frame.Paddr, prop PageProperty) error {
	end := vaddr + length
	if vaddr >= end || !t.coversRange(vaddr, end) {
		return errInvalidRange(vaddr, end)
	}
	if vaddr%t.consts.BasePageSize() != 0 || uintptr(paddr)%t.consts.BasePageSize() != 0 {
		return errUnaligned(vaddr)
	}

	// Reject the whole request up front if any page in the range already
	// carries a mapping, rather than partially installing it and leaving
	// the table in a mixed state.
	for cur := vaddr; cur < end; cur += t.consts.BasePageSize() {
		if _, _, ok := t.Query(cur); ok {
			return kerrors.MapAlreadyMappedVaddr
		}
	}

	cur := vaddr
	curPaddr := paddr
	for cur < end {
		level := t.bestMapLevel(cur, curPaddr, end-cur)
		node := t.ensurePath(cur, level)
		idx := PteIndex(t.consts, cur, level)
		node.Lock()
		node.WriteEntry(idx, NewPagePte(uintptr(curPaddr), prop))
		node.Unlock()
		step := PageSize(t.consts, level)
		cur += step
		curPaddr += frame.Paddr(step)
	}
	return nil
}

// bestMapLevel picks the highest level (largest page size) that is aligned
// for both cur and curPaddr, does not overrun remaining, and is permitted
// by HighestTranslationLevel — the huge-page policy of spec.md §4.2.2.
func (t *PageTable[M]) bestMapLevel(cur uintptr, curPaddr frame.Paddr, remaining uintptr) uint8 {
	for level := t.consts.HighestTranslationLevel(); level > 1; level-- {
		sz := PageSize(t.consts, level)
		if cur%sz == 0 && uintptr(curPaddr)%sz == 0 && remaining >= sz {
			return level
		}
	}
	return 1
}

// ensurePath walks from the root down to targetLevel, allocating
// intermediate PageTable nodes as needed, and returns the node at
// targetLevel holding vaddr's entry. Tracking status propagates from
// parent to child.
func (t *PageTable[M]) ensurePath(vaddr uintptr, targetLevel uint8) *PageTableNode {
	node := t.root
	for level := t.consts.NrLevels(); level > targetLevel; level-- {
		idx := PteIndex(t.consts, vaddr, level)
		node.Lock()
		pte := node.ReadEntry(idx)
		if !pte.IsPresent() {
			child, errt := AllocNode(t.consts, level-1, node.TrackingStatus())
			if errt != kerrors.OK {
				node.Unlock()
				panic("pgtable: out of memory allocating an internal node")
			}
			node.WriteEntry(idx, NewPtPte(uintptr(child.Paddr())))
			node.Unlock()
			node = child
			continue
		}
		if pte.IsLast(level) {
			// A huge mapping occupies this slot; split it into a full
			// level-(level-1) node covering the same range before
			// descending, so the finer-grained mapping below can proceed.
			child := t.splitHugeLocked(node, idx, level, pte)
			node.Unlock()
			node = child
			continue
		}
		childPaddr := frame.Paddr(pte.Paddr())
		node.Unlock()
		node = nodeFromPaddr(t.consts, childPaddr, level-1, node.TrackingStatus())
	}
	return node
}

// splitHugeLocked replaces a huge leaf PTE with a pointer to a freshly
// populated child node whose every entry reproduces the same mapping at
// one level finer. Caller holds node's lock.
func (t *PageTable[M]) splitHugeLocked(node *PageTableNode, idx uint64, level uint8, pte Pte) *PageTableNode {
	child, errt := AllocNode(t.consts, level-1, node.TrackingStatus())
	if errt != kerrors.OK {
		panic("pgtable: out of memory splitting a huge page")
	}
	prop := pte.Prop()
	basePaddr := pte.Paddr()
	step := PageSize(t.consts, level-1)
	n := NrSubpagePerHuge(t.consts)
	for i := uint64(0); i < n; i++ {
		child.WriteEntry(i, NewPagePte(basePaddr+uintptr(i)*step, prop))
	}
	node.WriteEntry(idx, NewPtPte(uintptr(child.Paddr())))
	atomic.AddInt64(&t.hugeSplits, 1)
	return child
}

// nodeFromPaddr wraps an already-allocated node's physical address back
// into a PageTableNode handle without taking a new reference: the tree
// itself owns the reference recorded in the parent PTE.
func nodeFromPaddr(consts PagingConstsTrait, paddr frame.Paddr, level uint8, tracking TrackingStatus) *PageTableNode {
	return &PageTableNode{frm: frame.FromRaw[nodeMeta](paddr), consts: consts}
}

// TryMergeUniformChildren inspects the child node at level that covers
// vaddr and, if every one of its entries is a present leaf mapping with
// identical properties over a contiguous physical range, collapses them
// into a single huge leaf PTE in the parent, freeing the child node.
// Reports whether a merge happened.
func (t *PageTable[M]) TryMergeUniformChildren(vaddr uintptr, level uint8) bool {
	parentLevel := level + 1
	if parentLevel > t.consts.HighestTranslationLevel() || parentLevel >= t.consts.NrLevels() {
		return false
	}

	parent := t.ensurePath(vaddr, parentLevel)
	idx := PteIndex(t.consts, vaddr, parentLevel)
	parent.Lock()
	defer parent.Unlock()

	pte := parent.ReadEntry(idx)
	if !pte.IsPresent() || pte.IsLast(parentLevel) {
		return false
	}

	child := nodeFromPaddr(t.consts, frame.Paddr(pte.Paddr()), level, parent.TrackingStatus())
	n := NrSubpagePerHuge(t.consts)
	step := PageSize(t.consts, level)

	child.Lock()
	first := child.ReadEntry(0)
	uniform := first.IsPresent() && first.IsLast(level)
	var prop PageProperty
	var basePaddr uintptr
	if uniform {
		prop = first.Prop()
		basePaddr = first.Paddr()
		for i := uint64(1); i < n && uniform; i++ {
			e := child.ReadEntry(i)
			if !e.IsPresent() || !e.IsLast(level) || e.Prop() != prop || e.Paddr() != basePaddr+uintptr(i)*step {
				uniform = false
			}
		}
	}
	child.Unlock()

	if !uniform {
		return false
	}
	parent.WriteEntry(idx, NewPagePte(basePaddr, prop))
	child.Drop()
	atomic.AddInt64(&t.hugeMerges, 1)
	return true
}

// Query returns the mapping for vaddr, if any, and the physical address
// translated exactly as a hardware MMU walk would produce it.
func (t *PageTable[M]) Query(vaddr uintptr) (frame.Paddr, PageProperty, bool) {
	node := t.root
	level := t.consts.NrLevels()
	for {
		idx := PteIndex(t.consts, vaddr, level)
		node.Lock()
		pte := node.ReadEntry(idx)
		node.Unlock()
		if !pte.IsPresent() {
			return 0, PageProperty{}, false
		}
		if pte.IsLast(level) {
			offset := vaddr & (PageSize(t.consts, level) - 1)
			return frame.Paddr(pte.Paddr()) + frame.Paddr(offset), pte.Prop(), true
		}
		node = nodeFromPaddr(t.consts, frame.Paddr(pte.Paddr()), level-1, node.TrackingStatus())
		level--
		if level == 0 {
			return 0, PageProperty{}, false
		}
	}
}

// Protect applies op to every leaf PTE overlapping [vaddr, vaddr+length),
// splitting huge pages that straddle the range boundary first, and issues
// a TLB invalidation for each contiguous sub-range touched.
func (t *PageTable[M]) Protect(vaddr, length uintptr, op func(PageProperty) PageProperty, flusher TlbFlusher) error {
	end := vaddr + length
	if vaddr >= end || !t.coversRange(vaddr, end) {
		return errInvalidRange(vaddr, end)
	}

	cur := vaddr
	changed := false
	for cur < end {
		level := t.leafLevelFor(cur, end-cur)
		node := t.ensurePath(cur, level)
		idx := PteIndex(t.consts, cur, level)
		node.Lock()
		pte := node.ReadEntry(idx)
		if pte.IsPresent() {
			before := pte.Prop()
			after := op(before)
			pte.SetProp(after)
			node.WriteEntry(idx, pte)
			if after != before {
				flusher.FlushAddr(cur)
				changed = true
			}
		}
		node.Unlock()
		cur += PageSize(t.consts, level)
	}
	if changed && t.isKernelMode() {
		// Kernel mappings are potentially cached in every CPU's TLB, not
		// just the one running this protect, so a per-address invalidation
		// alone is not enough.
		flusher.FlushAll()
	}
	return nil
}

// leafLevelFor finds the level at which cur currently has a present
// mapping (so Protect/Unmap operate on however the range is actually
// mapped rather than assuming base pages), falling back to splitting a
// huge page if the requested sub-range doesn't cover it exactly.
func (t *PageTable[M]) leafLevelFor(cur, remaining uintptr) uint8 {
	node := t.root
	level := t.consts.NrLevels()
	for level > 1 {
		idx := PteIndex(t.consts, cur, level)
		node.Lock()
		pte := node.ReadEntry(idx)
		node.Unlock()
		if !pte.IsPresent() {
			return level
		}
		if pte.IsLast(level) {
			sz := PageSize(t.consts, level)
			if cur%sz == 0 && remaining >= sz {
				return level
			}
			// Partial overlap: must split down to base pages for the
			// unaffected part to retain its original mapping.
			return 1
		}
		node = nodeFromPaddr(t.consts, frame.Paddr(pte.Paddr()), level-1, node.TrackingStatus())
		level--
	}
	return 1
}

// Unmap clears every leaf PTE in [vaddr, vaddr+length) and issues TLB
// invalidation for the affected range.
func (t *PageTable[M]) Unmap(vaddr, length uintptr, flusher TlbFlusher) error {
	end := vaddr + length
	if vaddr >= end || !t.coversRange(vaddr, end) {
		return errInvalidRange(vaddr, end)
	}
	cur := vaddr
	for cur < end {
		level := t.leafLevelFor(cur, end-cur)
		node := t.ensurePath(cur, level)
		idx := PteIndex(t.consts, cur, level)
		node.Lock()
		if node.ReadEntry(idx).IsPresent() {
			node.WriteEntry(idx, NewAbsentPte())
			flusher.FlushAddr(cur)
		}
		node.Unlock()
		cur += PageSize(t.consts, level)
	}
	return nil
}
