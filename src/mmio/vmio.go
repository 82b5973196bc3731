package mmio

// VmIo is the backing memory object a SafePtr addresses into: the spec's
// M type parameter. A real architecture port would implement it against
// a device's register window or a VMO; ArenaIo implements it against
// frame's simulated physical arena so SafePtr has a concrete, testable
// backend without a real device present.
type VmIo interface {
	// Len reports the object's size in bytes.
	Len() uintptr
	// ReadBytes copies len(buf) bytes starting at offset into buf.
	ReadBytes(offset uintptr, buf []byte) error
	// WriteBytes copies buf into the object starting at offset.
	WriteBytes(offset uintptr, buf []byte) error
	// Bytes returns a direct, non-copying view of [offset, offset+length).
	// ReadOnce/WriteOnce use this instead of ReadBytes/WriteBytes so the
	// atomic load or store lands on the real backing memory rather than a
	// throwaway copy, the way a genuine MMIO register read must.
	Bytes(offset, length uintptr) ([]byte, error)
}
