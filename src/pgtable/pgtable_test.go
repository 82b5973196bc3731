package pgtable

import (
	"sync"
	"testing"

	"frame"
	"kerrors"
)

var arenaOnce sync.Once

func setupArena(t *testing.T) {
	t.Helper()
	arenaOnce.Do(func() {
		if err := frame.Init(32*1024*1024, 4*1024*1024); err != nil {
			t.Fatalf("frame.Init: %v", err)
		}
	})
}

func newKernelTable(t *testing.T) *PageTable[KernelMode] {
	t.Helper()
	setupArena(t)
	tbl, errt := Empty[KernelMode]()
	if errt != kerrors.OK {
		t.Fatalf("Empty: %v", errt)
	}
	return tbl
}

// TestHugeMapThenSplitProtectS2 implements the spec's scenario S2: a 2 MiB
// huge mapping is installed, then a 4 KiB sub-range in the middle has its
// write permission removed, leaving the rest of the huge mapping intact
// and issuing a TLB invalidation for only the affected range.
func TestHugeMapThenSplitProtectS2(t *testing.T) {
	tbl := newKernelTable(t)

	const vstart = KernelVaddrStart
	hugeLen := PageSize(DefaultConsts, 2)
	paddr := frame.Paddr(0x40000000)

	if err := tbl.Map(vstart, hugeLen, paddr, RW(Writeback)); err != nil {
		t.Fatalf("Map: %v", err)
	}

	protectStart := vstart + 0x1000
	protectLen := uintptr(0x1000)
	flusher := NewSimTlbFlusher()
	if err := tbl.Protect(protectStart, protectLen, PageProperty.RemoveWrite, flusher); err != nil {
		t.Fatalf("Protect: %v", err)
	}

	if got := tbl.HugeSplits(); got != 1 {
		t.Fatalf("HugeSplits() = %d, want 1", got)
	}
	if got := flusher.AddrFlushes(); got != 1 {
		t.Fatalf("AddrFlushes() = %d, want 1", got)
	}

	p, prop, ok := tbl.Query(vstart + 0xfff)
	if !ok || !prop.Write {
		t.Fatalf("query before protected range: ok=%v write=%v, want present+writable", ok, prop.Write)
	}
	if p != paddr+0xfff {
		t.Fatalf("query before protected range paddr = %#x, want %#x", p, paddr+0xfff)
	}

	p, prop, ok = tbl.Query(protectStart + 0xfff)
	if !ok || prop.Write {
		t.Fatalf("query inside protected range: ok=%v write=%v, want present+read-only", ok, prop.Write)
	}

	p, prop, ok = tbl.Query(vstart + 0x2000)
	if !ok || !prop.Write {
		t.Fatalf("query after protected range: ok=%v write=%v, want present+writable", ok, prop.Write)
	}
}

func TestIdentityProtectIssuesNoPermissionChangeAndNoFlush(t *testing.T) {
	tbl := newKernelTable(t)
	vstart := KernelVaddrStart
	length := PageSize(DefaultConsts, 1)
	paddr := frame.Paddr(0x20000000)
	if err := tbl.Map(vstart, length, paddr, RW(Writeback)); err != nil {
		t.Fatalf("Map: %v", err)
	}

	flusher := NewSimTlbFlusher()
	if err := tbl.Protect(vstart, length, Identity, flusher); err != nil {
		t.Fatalf("Protect: %v", err)
	}
	// Identity leaves prop unchanged, so no flush should have been issued.
	if got := flusher.AddrFlushes(); got != 0 {
		t.Fatalf("AddrFlushes() = %d, want 0 for an identity protect", got)
	}
	_, prop, ok := tbl.Query(vstart)
	if !ok || !prop.Write {
		t.Fatal("identity protect should leave the mapping writable")
	}
}

func TestKernelModeProtectBroadcastsInvalidation(t *testing.T) {
	tbl := newKernelTable(t)
	vstart := KernelVaddrStart
	length := PageSize(DefaultConsts, 1)
	paddr := frame.Paddr(0x22000000)
	if err := tbl.Map(vstart, length, paddr, RW(Writeback)); err != nil {
		t.Fatalf("Map: %v", err)
	}

	flusher := NewSimTlbFlusher()
	if err := tbl.Protect(vstart, length, PageProperty.RemoveWrite, flusher); err != nil {
		t.Fatalf("Protect: %v", err)
	}
	if got := flusher.AllFlushes(); got != 1 {
		t.Fatalf("AllFlushes() = %d, want 1 for a kernel-mode protect that changed permissions", got)
	}
}

func TestUserModeProtectDoesNotBroadcast(t *testing.T) {
	tbl := newKernelTable(t)
	if errt := MakeSharedTables(tbl, int(NrSubpagePerHuge(DefaultConsts))/2, int(NrSubpagePerHuge(DefaultConsts))); errt != kerrors.OK {
		t.Fatalf("MakeSharedTables: %v", errt)
	}
	user, errt := CreateUserPageTable(tbl)
	if errt != kerrors.OK {
		t.Fatalf("CreateUserPageTable: %v", errt)
	}

	vstart := uintptr(0)
	length := PageSize(DefaultConsts, 1)
	paddr := frame.Paddr(0x23000000)
	if err := user.Map(vstart, length, paddr, RW(Writeback)); err != nil {
		t.Fatalf("Map: %v", err)
	}

	flusher := NewSimTlbFlusher()
	if err := user.Protect(vstart, length, PageProperty.RemoveWrite, flusher); err != nil {
		t.Fatalf("Protect: %v", err)
	}
	if got := flusher.AllFlushes(); got != 0 {
		t.Fatalf("AllFlushes() = %d, want 0 for a user-mode protect", got)
	}
	if got := flusher.AddrFlushes(); got != 1 {
		t.Fatalf("AddrFlushes() = %d, want 1", got)
	}
}

func TestUnmapClearsMappingAndFlushes(t *testing.T) {
	tbl := newKernelTable(t)
	vstart := KernelVaddrStart
	length := PageSize(DefaultConsts, 1)
	paddr := frame.Paddr(0x21000000)
	if err := tbl.Map(vstart, length, paddr, RW(Writeback)); err != nil {
		t.Fatalf("Map: %v", err)
	}
	flusher := NewSimTlbFlusher()
	if err := tbl.Unmap(vstart, length, flusher); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if _, _, ok := tbl.Query(vstart); ok {
		t.Fatal("query after unmap should find no mapping")
	}
	if got := flusher.AddrFlushes(); got != 1 {
		t.Fatalf("AddrFlushes() = %d, want 1", got)
	}
}

func TestMapRejectsAlreadyMappedVaddr(t *testing.T) {
	tbl := newKernelTable(t)
	length := PageSize(DefaultConsts, 1)
	if err := tbl.Map(KernelVaddrStart, length, frame.Paddr(0x24000000), RW(Writeback)); err != nil {
		t.Fatalf("first Map: %v", err)
	}
	err := tbl.Map(KernelVaddrStart, length, frame.Paddr(0x25000000), RW(Writeback))
	if err != kerrors.MapAlreadyMappedVaddr {
		t.Fatalf("second Map err = %v, want MapAlreadyMappedVaddr", err)
	}
	// The original mapping must survive the rejected re-map attempt.
	p, _, ok := tbl.Query(KernelVaddrStart)
	if !ok || p != frame.Paddr(0x24000000) {
		t.Fatalf("Query after rejected re-map = (%#x, %v), want (0x24000000, true)", p, ok)
	}
}

func TestMapRejectsUnalignedVaddr(t *testing.T) {
	tbl := newKernelTable(t)
	err := tbl.Map(KernelVaddrStart+1, PageSize(DefaultConsts, 1), frame.Paddr(0x22000000), RW(Writeback))
	if err == nil {
		t.Fatal("expected an error for an unaligned vaddr")
	}
}

func TestMapRejectsInvalidRange(t *testing.T) {
	tbl := newKernelTable(t)
	err := tbl.Map(KernelVaddrStart, 0, frame.Paddr(0x23000000), RW(Writeback))
	if err == nil {
		t.Fatal("expected an error for a zero-length range")
	}
}

func TestCreateUserPageTableSharesKernelHalf(t *testing.T) {
	tbl := newKernelTable(t)
	if errt := MakeSharedTables(tbl, int(NrSubpagePerHuge(DefaultConsts))/2, int(NrSubpagePerHuge(DefaultConsts))); errt != kerrors.OK {
		t.Fatalf("MakeSharedTables: %v", errt)
	}
	user, errt := CreateUserPageTable(tbl)
	if errt != kerrors.OK {
		t.Fatalf("CreateUserPageTable: %v", errt)
	}
	if user.RootPaddr() == tbl.RootPaddr() {
		t.Fatal("user page table must have its own root node")
	}
}

func TestReserveKVirtAreaExhaustion(t *testing.T) {
	_, errt := ReserveKVirtArea(0)
	if errt != kerrors.OK {
		t.Fatalf("ReserveKVirtArea(0): %v", errt)
	}
	huge := KernelVaddrEnd - KernelVaddrStart + 1
	_, errt = ReserveKVirtArea(huge)
	if errt != kerrors.KVirtAreaAllocError {
		t.Fatalf("ReserveKVirtArea(huge) = %v, want KVirtAreaAllocError", errt)
	}
}

func TestPteRoundTrip(t *testing.T) {
	prop := PageProperty{Read: true, Write: true, Execute: false, User: true, Cache: WriteCombining}
	pte := NewPagePte(0x12345000, prop)
	if !pte.IsPresent() {
		t.Fatal("encoded page PTE should be present")
	}
	if pte.Paddr() != 0x12345000 {
		t.Fatalf("Paddr() = %#x, want %#x", pte.Paddr(), 0x12345000)
	}
	got := pte.Prop()
	if got.Write != prop.Write || got.User != prop.User || got.Cache != prop.Cache {
		t.Fatalf("Prop() = %+v, want fields matching %+v", got, prop)
	}
}

func TestAbsentPteHasNoProp(t *testing.T) {
	p := NewAbsentPte()
	if p.IsPresent() {
		t.Fatal("zero-value PTE should be absent")
	}
	before := p
	p.SetProp(RW(Writeback))
	if p != before {
		t.Fatal("SetProp on an absent PTE must be a no-op")
	}
}
