package frame

import (
	"sync"
	"sync/atomic"

	"github.com/google/btree"

	"kerrors"
)

// GlobalFrameAllocator is the stable extension point a kernel built on this
// substrate plugs into. size and align are always multiples of PageSize.
type GlobalFrameAllocator interface {
	Alloc(size, align uint64) (Paddr, bool)
	Dealloc(p Paddr, size uint64)
	AddFreeMemory(p Paddr, size uint64)
}

// extent is a free physical address range, ordered by base address in the
// free-region btree so first-fit allocation and neighbour merging on free
// walk it in address order. Overlap between extents is not checked.
type extent struct {
	base uint64
	size uint64
}

func (e extent) Less(o extent) bool { return e.base < o.base }

// table is the process-wide singleton tracking every allocated page's
// refcount and metadata, plus the two-phase free-space bookkeeping.
type table struct {
	mu    sync.Mutex
	arena *arena

	// bootstrap phase: a simple bump pointer serving pages out of the
	// arena until AddFreeMemory transitions to the full allocator.
	bumpNext uint64
	bumpEnd  uint64
	fullMode atomic.Bool

	free *btree.BTreeG[extent]

	slots map[uint64]*atomicSlot // keyed by page number

	// rawRanges records bump-phase allocations handed out through AllocRaw,
	// which carry no metadata of their own yet. AddFreeMemory retrofits each
	// of these with EarlyAllocatedFrameMeta the moment it takes the table
	// into full-allocator mode, so a page consumed before the metadata
	// system existed is still addressable through the typed Frame API
	// afterward.
	rawRanges []rawRange
}

type rawRange struct {
	start Paddr
	n     uint64
}

var globalTable *table

// Init creates the process-wide frame table over a simulated arena of
// arenaSize bytes, with the first bumpReserve bytes served by the bootstrap
// bump allocator. Init may run exactly once; a second call panics, per the
// write-once global-state design.
func Init(arenaSize, bumpReserve uint64) error {
	if globalTable != nil {
		panic("frame: Init called twice")
	}
	a, err := newArena(arenaSize)
	if err != nil {
		return err
	}
	t := &table{
		arena:   a,
		bumpEnd: alignDown(bumpReserve, PageSize),
		free:    btree.NewG(32, extent.Less),
		slots:   make(map[uint64]*atomicSlot),
	}
	globalTable = t
	log.WithField("bytes", arenaSize).Info("frame table initialized")
	return nil
}

func pageNum(p Paddr) uint64 { return uint64(p) >> PageShift }

func (t *table) slotFor(p Paddr) *atomicSlot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.slots[pageNum(p)]
	if s == nil {
		panic("frame: slot lookup for unallocated page")
	}
	return s
}

func (t *table) install(p Paddr, meta AnyFrameMeta) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[pageNum(p)] = &atomicSlot{refcount: 1, meta: meta}
}

func (t *table) incRef(p Paddr) {
	s := t.slotFor(p)
	if atomic.AddInt64(&s.refcount, 1) <= 1 {
		panic("frame: Clone of a freed frame")
	}
}

func (t *table) decRef(p Paddr) {
	s := t.slotFor(p)
	c := atomic.AddInt64(&s.refcount, -1)
	if c < 0 {
		panic("frame: double free detected")
	}
	if c == 0 {
		s.meta.OnDrop()
		t.mu.Lock()
		delete(t.slots, pageNum(p))
		t.mu.Unlock()
		t.Dealloc(p, PageSize)
	}
}

// allocPages serves n contiguous pages aligned to align bytes, preferring the
// bootstrap bump region until it is exhausted or the full allocator has
// taken over.
func (t *table) allocPages(n uint64, align uint64) (Paddr, bool) {
	size := n * PageSize
	if !t.fullMode.Load() {
		t.mu.Lock()
		start := alignUp(t.bumpNext, align)
		if start+size <= t.bumpEnd {
			t.bumpNext = start + size
			t.mu.Unlock()
			return Paddr(start), true
		}
		t.mu.Unlock()
	}
	if p, ok := t.Alloc(size, align); ok {
		return p, true
	}
	return 0, false
}

// Alloc implements GlobalFrameAllocator against the free-extent registry
// built by AddFreeMemory. It is a first-fit search ascending by base
// address, splitting the remainder back into the registry.
func (t *table) Alloc(size, align uint64) (Paddr, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var found extent
	var ok bool
	t.free.Ascend(func(e extent) bool {
		start := alignUp(e.base, align)
		if start+size <= e.base+e.size {
			found, ok = e, true
			return false
		}
		return true
	})
	if !ok {
		return 0, false
	}
	t.free.Delete(found)

	start := alignUp(found.base, align)
	if start > found.base {
		t.free.ReplaceOrInsert(extent{base: found.base, size: start - found.base})
	}
	end := found.base + found.size
	rem := end - (start + size)
	if rem > 0 {
		t.free.ReplaceOrInsert(extent{base: start + size, size: rem})
	}
	return Paddr(start), true
}

// Dealloc implements GlobalFrameAllocator. Returning memory never allocated
// by this allocator is a caller error and is not detected here; frame.Drop
// always calls it with a page this table itself handed out.
func (t *table) Dealloc(p Paddr, size uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.insertFreeLocked(uint64(p), size)
}

// AddFreeMemory registers a region known to be free and non-overlapping
// with anything previously registered or bump-allocated. The first call
// flips the table into full-allocator mode and retrofits every page handed
// out via AllocRaw during the bump phase with EarlyAllocatedFrameMeta, so
// those pages become addressable through the typed Frame API from here on.
func (t *table) AddFreeMemory(p Paddr, size uint64) {
	t.mu.Lock()
	t.insertFreeLocked(uint64(p), size)
	raw := t.rawRanges
	t.rawRanges = nil
	t.mu.Unlock()

	t.fullMode.Store(true)

	for _, r := range raw {
		for i := uint64(0); i < r.n; i++ {
			pg := r.start + Paddr(i*PageSize)
			t.mu.Lock()
			if _, exists := t.slots[pageNum(pg)]; !exists {
				t.slots[pageNum(pg)] = &atomicSlot{refcount: 1, meta: EarlyAllocatedFrameMeta{}}
			}
			t.mu.Unlock()
		}
	}
}

// AllocRaw hands out n contiguous bump-phase frames with no metadata of
// their own, for the rare early-boot consumer that needs physical memory
// before any typed metadata system (including its own) has been
// initialized. Once AddFreeMemory takes the table into full-allocator mode,
// every such frame still outstanding is retrofitted with
// EarlyAllocatedFrameMeta and can be claimed with FromRaw.
func AllocRaw(n uint64) (Paddr, kerrors.Err_t) {
	if n == 0 {
		return 0, kerrors.InvalidArgs
	}
	p, ok := globalTable.allocPages(n, PageSize)
	if !ok {
		return 0, kerrors.NoMemory
	}
	globalTable.mu.Lock()
	globalTable.rawRanges = append(globalTable.rawRanges, rawRange{start: p, n: n})
	globalTable.mu.Unlock()
	return p, kerrors.OK
}

func (t *table) insertFreeLocked(base, size uint64) {
	// Merge with an immediately preceding or following extent when
	// present, keeping the registry from fragmenting needlessly.
	merged := extent{base: base, size: size}
	t.free.AscendGreaterOrEqual(extent{base: base}, func(e extent) bool {
		if e.base == merged.base+merged.size {
			t.free.Delete(e)
			merged.size += e.size
		}
		return false
	})
	var prev extent
	havePrev := false
	t.free.DescendLessOrEqual(extent{base: base}, func(e extent) bool {
		prev, havePrev = e, true
		return false
	})
	if havePrev && prev.base+prev.size == merged.base {
		t.free.Delete(prev)
		merged.base = prev.base
		merged.size += prev.size
	}
	t.free.ReplaceOrInsert(merged)
}

// FreeBytes reports the total bytes currently tracked as free in the
// full-allocator registry (not counting unexhausted bump-phase space).
func (t *table) FreeBytes() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total uint64
	t.free.Ascend(func(e extent) bool {
		total += e.size
		return true
	})
	return total
}

// ensure the table itself satisfies the stable extension-point interface.
var _ GlobalFrameAllocator = (*table)(nil)
