package pgtable

import "sync/atomic"

// TlbFlusher issues translation lookaside buffer invalidations. A real
// architecture port implements this with `invlpg`/`invpcid`-equivalent
// instructions; the hosted simulation only counts them, since there is no
// real TLB to invalidate.
type TlbFlusher interface {
	FlushAddr(vaddr uintptr)
	FlushAll()
}

// SimTlbFlusher counts invalidations for diagnostics and testing; it
// performs no real hardware action.
type SimTlbFlusher struct {
	addrFlushes int64
	allFlushes  int64
}

// NewSimTlbFlusher returns a flusher with zeroed counters.
func NewSimTlbFlusher() *SimTlbFlusher { return &SimTlbFlusher{} }

func (f *SimTlbFlusher) FlushAddr(vaddr uintptr) { atomic.AddInt64(&f.addrFlushes, 1) }
func (f *SimTlbFlusher) FlushAll()               { atomic.AddInt64(&f.allFlushes, 1) }

// AddrFlushes returns the number of single-address invalidations issued.
func (f *SimTlbFlusher) AddrFlushes() int64 { return atomic.LoadInt64(&f.addrFlushes) }

// AllFlushes returns the number of broadcast invalidations issued.
func (f *SimTlbFlusher) AllFlushes() int64 { return atomic.LoadInt64(&f.allFlushes) }

var _ TlbFlusher = (*SimTlbFlusher)(nil)
