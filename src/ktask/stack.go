// Package ktask implements tasks and their kernel stacks: a builder
// (TaskOptions) that allocates a guarded or unguarded stack segment from the
// frame allocator, an atomic CPU-affinity cell, and a minimal scheduler
// extension point.
package ktask

import (
	"kerrors"

	"frame"
)

// DefaultStackPages is the default kernel stack size, matching
// STACK_SIZE_IN_PAGES's documented default.
const DefaultStackPages = 128

type stackMeta struct{}

func (stackMeta) OnDrop() {}

func init() {
	frame.RegisterMeta[stackMeta]()
}

// KernelStack is a contiguous run of pages allocated from the frame
// allocator for a task's execution stack. The guarded form allocates one
// additional page at the low end, mapped read-only, so a stack overflow
// faults instead of corrupting adjacent memory.
type KernelStack struct {
	seg     frame.Segment[stackMeta]
	pages   uint64
	guarded bool
}

// NewKernelStack allocates a stack of the given page count. If guard is
// true, one extra page is allocated below it and write-protected.
func NewKernelStack(pages uint64, guard bool) (*KernelStack, kerrors.Err_t) {
	total := pages
	if guard {
		total++
	}
	seg, errt := frame.AllocSegment(frame.NewFrameAllocOptions(), total, func(uint64) stackMeta {
		return stackMeta{}
	})
	if errt != kerrors.OK {
		return nil, errt
	}
	if guard {
		if err := frame.ProtectPage(seg.Start(), true, false); err != nil {
			seg.Drop()
			return nil, kerrors.IoError
		}
	}
	return &KernelStack{seg: seg, pages: pages, guarded: guard}, kerrors.OK
}

// Top returns the highest address of the usable (non-guard) portion of the
// stack, 16-byte aligned as System V AMD64 requires of a fresh stack
// pointer.
func (k *KernelStack) Top() uintptr {
	end := uintptr(k.seg.Start()) + uintptr(k.seg.Len())*frame.PageSize
	return end &^ 0xf
}

// Drop restores the guard page's permissions, if any, and frees the stack.
func (k *KernelStack) Drop() {
	if k.guarded {
		// Best-effort: restoring permissions before a page is handed
		// back to the allocator keeps a later unrelated allocation
		// from inheriting a read-only mapping.
		_ = frame.ProtectPage(k.seg.Start(), true, true)
	}
	k.seg.Drop()
}
