package pgtable

import (
	"golang.org/x/arch/x86/x86asm"

	"kerrors"
)

// FaultInfo carries what's known about a page fault: the faulting virtual
// address, whether the access was a write, and — when the trap frame
// supplies it — the bytes at the faulting instruction pointer, so the
// diagnostic log line can show what the CPU was actually trying to do.
type FaultInfo struct {
	Vaddr       uintptr
	Write       bool
	Instruction []byte
}

// ReportFault logs a PageFault diagnostic, disassembling the faulting
// instruction when its bytes were supplied. It always returns
// kerrors.PageFault: page faults are reported, never silently absorbed,
// per spec.md §7's error kind list.
func ReportFault(info FaultInfo) kerrors.Err_t {
	entry := log.WithField("vaddr", info.Vaddr).WithField("write", info.Write)
	if len(info.Instruction) > 0 {
		if inst, err := x86asm.Decode(info.Instruction, 64); err == nil {
			entry = entry.WithField("instruction", inst.String())
		} else {
			entry = entry.WithField("instruction", "<undecodable>")
		}
	}
	entry.Warn("page fault")
	return kerrors.PageFault
}
