package pgtable

import "frame"

// cursorBase is shared state between Cursor and CursorMut: the range being
// walked, the current virtual address (operations advance it; Jump may
// also move it backward), and a
// descent-depth guard matching NR_LEVELS. Huge-page split/merge
// bookkeeping lives on PageTable itself (HugeSplits/HugeMerges), since
// splits and merges can also happen outside of any cursor's lifetime.
type cursorBase[M PageTableMode] struct {
	table   *PageTable[M]
	va, end uintptr
	depth   uint8
}

func newCursorBase[M PageTableMode](t *PageTable[M], va, end uintptr) (*cursorBase[M], error) {
	if va >= end {
		return nil, errInvalidRange(va, end)
	}
	var m M
	if !m.Covers(va, end) {
		return nil, errInvalidRange(va, end)
	}
	if va%t.consts.BasePageSize() != 0 || end%t.consts.BasePageSize() != 0 {
		return nil, errUnaligned(va)
	}
	return &cursorBase[M]{table: t, va: va, end: end}, nil
}

// VirtAddr returns the cursor's current position.
func (c *cursorBase[M]) VirtAddr() uintptr { return c.va }

// Jump moves the cursor to va, which may be any address from the start of
// the page table mode's range up to the cursor's end; it is not limited to
// the range the cursor was created with.
func (c *cursorBase[M]) Jump(va uintptr) error {
	if va < c.table.rangeStart() || va > c.end {
		return errInvalidRange(va, c.end)
	}
	c.va = va
	return nil
}

// PushLevel and PopLevel track descent depth for diagnostics and the
// NR_LEVELS guard; the actual node traversal happens inside the table-level
// Map/Unmap/Protect/Query helpers, which is where locks are actually held
// for the (brief) duration of each node's mutation.
func (c *cursorBase[M]) PushLevel() error {
	if c.depth+1 >= c.table.consts.NrLevels() {
		return &PageTableError{"cursor depth exceeds NR_LEVELS"}
	}
	c.depth++
	return nil
}

func (c *cursorBase[M]) PopLevel() error {
	if c.depth == 0 {
		return &PageTableError{"cursor depth underflow"}
	}
	c.depth--
	return nil
}

func (t *PageTable[M]) rangeStart() uintptr {
	var m M
	return m.VaddrRange()[0]
}

// Cursor is a read-only navigator over a virtual-address range.
type Cursor[M PageTableMode] struct {
	*cursorBase[M]
}

// NewCursor constructs a read-only cursor over [va, end).
func NewCursor[M PageTableMode](t *PageTable[M], va, end uintptr) (*Cursor[M], error) {
	b, err := newCursorBase(t, va, end)
	if err != nil {
		return nil, err
	}
	return &Cursor[M]{b}, nil
}

// Query looks up the mapping at the cursor's current position.
func (c *Cursor[M]) Query() (frame.Paddr, PageProperty, bool) {
	return c.table.Query(c.va)
}

// CursorMut is an exclusive navigator over a virtual-address range,
// supporting mapping, unmapping, and protection.
type CursorMut[M PageTableMode] struct {
	*cursorBase[M]
}

// NewCursorMut constructs a mutating cursor over [va, end).
func NewCursorMut[M PageTableMode](t *PageTable[M], va, end uintptr) (*CursorMut[M], error) {
	b, err := newCursorBase(t, va, end)
	if err != nil {
		return nil, err
	}
	return &CursorMut[M]{b}, nil
}

// MapPa maps the cursor's entire remaining range to a physical range of
// the same length starting at paddr, and advances the cursor to the end of
// the range.
func (c *CursorMut[M]) MapPa(paddr frame.Paddr, prop PageProperty) error {
	length := c.end - c.va
	if err := c.table.Map(c.va, length, paddr, prop); err != nil {
		return err
	}
	c.va = c.end
	return nil
}

// ProtectNext applies op to leaf mappings starting at the cursor's current
// position, up to maxLen bytes, stopping at the first leaf boundary so the
// caller can issue a TLB invalidation per contiguous sub-range (matching
// the original's per-call invalidation contract). It returns the
// half-open range touched, or ok=false if the cursor has reached the end
// of its range.
func (c *CursorMut[M]) ProtectNext(maxLen uintptr, op func(PageProperty) PageProperty, flusher TlbFlusher) (start, end uintptr, ok bool) {
	if c.va >= c.end {
		return 0, 0, false
	}
	limit := c.va + maxLen
	if limit > c.end {
		limit = c.end
	}
	level := c.table.leafLevelFor(c.va, limit-c.va)
	step := PageSize(c.table.consts, level)
	if c.va+step > limit {
		step = limit - c.va
	}
	start = c.va
	if err := c.table.Protect(c.va, step, op, flusher); err != nil {
		return 0, 0, false
	}
	c.va += step
	return start, c.va, true
}

// Unmap clears mappings over the cursor's entire remaining range and
// advances it to the end.
func (c *CursorMut[M]) Unmap(flusher TlbFlusher) error {
	length := c.end - c.va
	if err := c.table.Unmap(c.va, length, flusher); err != nil {
		return err
	}
	c.va = c.end
	return nil
}
