package bootinfo

import "testing"

func TestUsableRegionsFilters(t *testing.T) {
	b := &EarlyBootInfo{
		MemoryRegions: []MemRegion{
			{Base: 0, Size: 0x1000, Tag: Reserved},
			{Base: 0x1000, Size: 0x2000, Tag: Usable},
			{Base: 0x3000, Size: 0x1000, Tag: Kernel},
			{Base: 0x4000, Size: 0x1000, Tag: Usable},
		},
	}
	got := b.UsableRegions()
	if len(got) != 2 {
		t.Fatalf("UsableRegions() = %d regions, want 2", len(got))
	}
	if got[0].Base != 0x1000 || got[1].Base != 0x4000 {
		t.Fatalf("unexpected regions: %+v", got)
	}
}

func TestRegionEnd(t *testing.T) {
	r := MemRegion{Base: 0x1000, Size: 0x2000}
	if r.End() != 0x3000 {
		t.Fatalf("End() = %#x, want 0x3000", r.End())
	}
}

func TestGlobalSetOnce(t *testing.T) {
	// Exercises the real package singleton through Set/Get, and clears it
	// afterward so other tests see it unset.
	defer func() {
		global = nil
	}()
	Set(&EarlyBootInfo{BootloaderName: "test"})
	if Get().BootloaderName != "test" {
		t.Fatal("Get() did not return the installed info")
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on second Set")
		}
	}()
	Set(&EarlyBootInfo{})
}
