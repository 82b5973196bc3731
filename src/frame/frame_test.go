package frame

import (
	"testing"

	"kerrors"
)

type testMeta struct{ dropped *bool }

func (m testMeta) OnDrop() {
	if m.dropped != nil {
		*m.dropped = true
	}
}

func init() {
	RegisterMeta[testMeta]()
}

func resetTable(t *testing.T) {
	t.Helper()
	old := globalTable
	globalTable = nil
	if err := Init(16*1024*1024, 4*1024*1024); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() {
		globalTable.arena.Close()
		globalTable = old
	})
}

func TestAllocSingleFrame(t *testing.T) {
	resetTable(t)
	f, errt := Alloc(NewFrameAllocOptions(), testMeta{})
	if errt != 0 {
		t.Fatalf("Alloc failed: %v", errt)
	}
	if f.Paddr()%PageSize != 0 {
		t.Fatalf("Paddr %#x not page-aligned", f.Paddr())
	}
	f.Drop()
}

func TestFrameSegmentLifecycleS1(t *testing.T) {
	resetTable(t)
	seg, errt := AllocSegment(NewFrameAllocOptions(), 3, func(i uint64) testMeta {
		return testMeta{}
	})
	if errt != 0 {
		t.Fatalf("AllocSegment failed: %v", errt)
	}
	p0 := seg.Start()
	front, back := seg.SplitAt(1)
	if front.Len() != 1 || back.Len() != 2 {
		t.Fatalf("split lengths wrong: front=%d back=%d", front.Len(), back.Len())
	}
	if back.Start() != p0+PageSize {
		t.Fatalf("back segment start %#x, want %#x", back.Start(), p0+PageSize)
	}
	front.Drop()

	freeBefore := globalTable.FreeBytes()
	// p0..p0+PageSize must now be free; p0+PageSize..p0+3*PageSize must
	// still be allocated (owned by `back`).
	if _, ok := globalTable.Alloc(PageSize, PageSize); !ok {
		t.Fatal("expected the freed front page to be allocatable again")
	}
	if globalTable.FreeBytes() >= freeBefore {
		t.Fatal("allocating the freed page should have reduced free bytes")
	}
	back.Drop()
}

func TestCloneSharesMetadataInstance(t *testing.T) {
	resetTable(t)
	var dropped bool
	f, errt := Alloc(NewFrameAllocOptions(), testMeta{dropped: &dropped})
	if errt != 0 {
		t.Fatalf("Alloc failed: %v", errt)
	}
	g := f.Clone()
	f.Drop()
	if dropped {
		t.Fatal("OnDrop fired while a clone is still live")
	}
	g.Drop()
	if !dropped {
		t.Fatal("OnDrop did not fire after the last clone dropped")
	}
}

func TestAllocExhaustionReturnsNoMemory(t *testing.T) {
	resetTable(t)
	opts := NewFrameAllocOptions()
	var segs []Segment[testMeta]
	for {
		seg, errt := AllocSegment(opts, 1, func(i uint64) testMeta { return testMeta{} })
		if errt != 0 {
			if errt != kerrors.NoMemory {
				t.Fatalf("exhausted AllocSegment errt = %v, want NoMemory", errt)
			}
			break
		}
		segs = append(segs, seg)
		if len(segs) > 100000 {
			t.Fatal("allocator never exhausted")
		}
	}
	for _, s := range segs {
		s.Drop()
	}
}

func TestAllocRawRetrofitsEarlyAllocatedFrameMeta(t *testing.T) {
	resetTable(t)
	p, errt := AllocRaw(1)
	if errt != kerrors.OK {
		t.Fatalf("AllocRaw failed: %v", errt)
	}
	// Before the full allocator takes over, the page has no slot at all:
	// it was only consumed from the bump pointer, never typed.
	if _, exists := globalTable.slots[pageNum(p)]; exists {
		t.Fatal("AllocRaw page should have no slot before the metadata phase takes over")
	}

	globalTable.AddFreeMemory(globalTable.bumpEnd, PageSize)

	f := FromRaw[EarlyAllocatedFrameMeta](p)
	if f.Paddr() != p {
		t.Fatal("retrofitted frame lost its address")
	}
	f.Drop()
}

func TestAllocSegmentZeroFramesIsInvalidArgs(t *testing.T) {
	resetTable(t)
	seg, errt := AllocSegment(NewFrameAllocOptions(), 0, func(i uint64) testMeta { return testMeta{} })
	if errt != kerrors.InvalidArgs {
		t.Fatalf("AllocSegment(0, ...) errt = %v, want InvalidArgs", errt)
	}
	if seg.Len() != 0 {
		t.Fatalf("AllocSegment(0, ...) returned a non-empty segment: len=%d", seg.Len())
	}
}

func TestFromRawIntoRawRoundTrip(t *testing.T) {
	resetTable(t)
	f, errt := Alloc(NewFrameAllocOptions(), testMeta{})
	if errt != 0 {
		t.Fatalf("Alloc failed: %v", errt)
	}
	p := f.IntoRaw()
	g := FromRaw[testMeta](p)
	if g.Paddr() != f.Paddr() {
		t.Fatal("from_raw(into_raw(f)) lost the address")
	}
	g.Drop()
}
