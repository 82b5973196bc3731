package pgtable

import (
	"sync"

	"frame"
	"kerrors"
)

// TrackingStatus marks whether a node's leaves track frame metadata
// (ordinary memory) or are untracked (e.g. device memory mapped by the
// MMIO layer). It propagates: a Tracked node's children are Tracked, an
// Untracked node's children are Untracked.
type TrackingStatus int

const (
	Tracked TrackingStatus = iota
	Untracked
	NotApplicable // root nodes and nodes above the first tracked/untracked split
)

type nodeMeta struct {
	level    uint8
	tracking TrackingStatus
}

func (nodeMeta) OnDrop() {}

func init() {
	frame.RegisterMeta[nodeMeta]()
}

// PageTableNode is a single node in the page table tree: one physical page
// holding NrSubpagePerHuge PTEs, a lock for exclusive modification, and a
// refcount (via its backing Frame). A non-root node's reference is owned by
// its parent PTE; a root node gains one per CloneShallow. Cursors and the
// handles nodeFromPaddr builds take no reference.
type PageTableNode struct {
	mu     sync.Mutex
	frm    frame.Frame[nodeMeta]
	consts PagingConstsTrait
}

// AllocNode allocates a fresh, all-absent node at the given level.
func AllocNode(consts PagingConstsTrait, level uint8, tracking TrackingStatus) (*PageTableNode, kerrors.Err_t) {
	f, errt := frame.Alloc(frame.NewFrameAllocOptions(), nodeMeta{level: level, tracking: tracking})
	if errt != kerrors.OK {
		return nil, errt
	}
	return &PageTableNode{frm: f, consts: consts}, kerrors.OK
}

// Level returns the node's level (1 = leaf).
func (n *PageTableNode) Level() uint8 { return n.frm.Meta().level }

// TrackingStatus returns the node's tracking status.
func (n *PageTableNode) TrackingStatus() TrackingStatus { return n.frm.Meta().tracking }

// Paddr returns the physical address of the node's backing page.
func (n *PageTableNode) Paddr() frame.Paddr { return n.frm.Paddr() }

// Lock acquires the node's exclusive modification lock. Page table
// operations hold one node's lock at a time, only while reading or writing
// that node's entries; no lock is held across levels or for a cursor's
// lifetime.
func (n *PageTableNode) Lock() { n.mu.Lock() }

// Unlock releases the node's lock.
func (n *PageTableNode) Unlock() { n.mu.Unlock() }

// ReadEntry returns the PTE at idx. Caller must hold the node's lock.
func (n *PageTableNode) ReadEntry(idx uint64) Pte {
	return readPte(n.frm.Bytes(), idx, n.consts.PteSize())
}

// WriteEntry stores v at idx. Caller must hold the node's lock.
func (n *PageTableNode) WriteEntry(idx uint64, v Pte) {
	writePte(n.frm.Bytes(), idx, n.consts.PteSize(), v)
}

// CloneShallow returns another handle to the same underlying frame,
// incrementing its refcount — the node is not copied, only referenced
// again, matching the original's shallow-copy semantics for sharing a root
// node between the kernel table and a lock acquired on it.
func (n *PageTableNode) CloneShallow() *PageTableNode {
	return &PageTableNode{frm: n.frm.Clone(), consts: n.consts}
}

// Drop releases this handle's reference to the backing frame.
func (n *PageTableNode) Drop() {
	n.frm.Drop()
}
