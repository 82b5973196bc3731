package frame

import "kerrors"

// Segment is a reference-counted handle to a contiguous run of frames, all
// sharing metadata of type M.
type Segment[M AnyFrameMeta] struct {
	start Paddr
	n     uint64
}

// Start returns the physical address of the segment's first frame.
func (s Segment[M]) Start() Paddr { return s.start }

// Len returns the number of frames in the segment.
func (s Segment[M]) Len() uint64 { return s.n }

// Frame returns the i-th frame's handle without adjusting any refcount.
func (s Segment[M]) Frame(i uint64) Frame[M] {
	if i >= s.n {
		panic("frame: Segment index out of range")
	}
	return Frame[M]{paddr: s.start + Paddr(i*PageSize)}
}

// SplitAt divides the segment into [0,n) and [n,len) without touching any
// refcount: both halves describe frames already owned by the original
// handle, and Drop on either or both still drops every frame exactly once
// overall as long as the caller only calls Drop once per frame.
func (s Segment[M]) SplitAt(n uint64) (Segment[M], Segment[M]) {
	if n > s.n {
		panic("frame: SplitAt beyond segment length")
	}
	return Segment[M]{start: s.start, n: n},
		Segment[M]{start: s.start + Paddr(n*PageSize), n: s.n - n}
}

// JoinSegments reassembles two adjacent segments into one, the inverse of
// SplitAt. It reports false if the segments are not contiguous.
func JoinSegments[M AnyFrameMeta](a, b Segment[M]) (Segment[M], bool) {
	if a.start+Paddr(a.n*PageSize) != b.start {
		return Segment[M]{}, false
	}
	return Segment[M]{start: a.start, n: a.n + b.n}, true
}

// Drop releases every frame in the segment.
func (s Segment[M]) Drop() {
	for i := uint64(0); i < s.n; i++ {
		s.Frame(i).Drop()
	}
}

// AllocSegment allocates n contiguous frames, calling metaFor(i) to build
// each frame's metadata.
func AllocSegment[M AnyFrameMeta](o *FrameAllocOptions, n uint64, metaFor func(i uint64) M) (Segment[M], kerrors.Err_t) {
	if n == 0 {
		return Segment[M]{}, kerrors.InvalidArgs
	}
	if !isRegistered[M]() {
		panic("frame: metadata type used without RegisterMeta")
	}
	p, ok := globalTable.allocPages(n, o.align)
	if !ok {
		return Segment[M]{}, kerrors.NoMemory
	}
	if o.zeroed {
		for i := uint64(0); i < n; i++ {
			b := globalTable.arena.Bytes(p + Paddr(i*PageSize))
			for j := range b {
				b[j] = 0
			}
		}
	}
	for i := uint64(0); i < n; i++ {
		globalTable.install(p+Paddr(i*PageSize), metaFor(i))
	}
	return Segment[M]{start: p, n: n}, kerrors.OK
}
