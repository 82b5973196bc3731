package mmio

import (
	"sync/atomic"
	"unsafe"
)

// readOnceInto loads len(b) bytes from the backing memory into *dst with
// a single instruction when that length matches a word size the host can
// load atomically; other lengths (a 1-, 2-, 3- or >8-byte T) copy
// plainly with no single-load guarantee, since sync/atomic offers no
// operation of those widths.
func readOnceInto(dst unsafe.Pointer, b []byte) {
	switch len(b) {
	case 4:
		raw := atomic.LoadUint32((*uint32)(unsafe.Pointer(&b[0])))
		*(*uint32)(dst) = raw
	case 8:
		raw := atomic.LoadUint64((*uint64)(unsafe.Pointer(&b[0])))
		*(*uint64)(dst) = raw
	default:
		out := unsafe.Slice((*byte)(dst), len(b))
		copy(out, b)
	}
}

// writeOnceFrom is readOnceInto's inverse.
func writeOnceFrom(b []byte, src unsafe.Pointer) {
	switch len(b) {
	case 4:
		atomic.StoreUint32((*uint32)(unsafe.Pointer(&b[0])), *(*uint32)(src))
	case 8:
		atomic.StoreUint64((*uint64)(unsafe.Pointer(&b[0])), *(*uint64)(src))
	default:
		in := unsafe.Slice((*byte)(src), len(b))
		copy(b, in)
	}
}
