// Package mmio implements SafePtr, a typed pointer into a VmIo-backed
// memory object whose permitted operations are pinned by a compile-time
// rights marker, giving device-register access the same "can't read what
// you weren't granted" guarantee the original gets from a trait-bound
// rights type.
package mmio

import (
	"unsafe"

	"github.com/sirupsen/logrus"

	"kerrors"
	"reslimit"
)

var log = logrus.WithField("subsystem", "mmio")

func sizeOf[T any]() uintptr {
	var zero T
	return unsafe.Sizeof(zero)
}

// SafePtr addresses a value of type T inside mem at a fixed byte offset.
// R is a phantom rights marker (ReadOnly, WriteOnly, ReadWrite, Full):
// SafePtr's own methods never branch on it, but the free functions below
// that need a particular right take SafePtr[T, R] with R constrained to
// an interface narrower than Rights, so a SafePtr without the needed
// right simply fails to compile as an argument.
type SafePtr[T any, R Rights] struct {
	mem    VmIo
	offset uintptr
}

// NewSafePtr constructs a safe pointer at offset within mem, charging one
// slot against reslimit.Syslimit.MmioPtrs. The offset is bounds-checked
// against mem's length; the original defers this check to first access,
// but nothing is lost by catching it at construction time here.
func NewSafePtr[T any, R Rights](mem VmIo, offset uintptr) (SafePtr[T, R], kerrors.Err_t) {
	if offset+sizeOf[T]() > mem.Len() {
		return SafePtr[T, R]{}, kerrors.InvalidArgs
	}
	if !reslimit.Syslimit.MmioPtrs.Take() {
		log.Warn("mmio pointer limit exhausted")
		return SafePtr[T, R]{}, kerrors.NotEnoughResources
	}
	return SafePtr[T, R]{mem: mem, offset: offset}, kerrors.OK
}

// Release gives back the MmioPtrs slot NewSafePtr (or Cast, Duplicate,
// Restrict, FieldPtr) took. A SafePtr let go without Release leaks its
// slot the way a Frame dropped without Drop leaks a page.
func (p SafePtr[T, R]) Release() {
	reslimit.Syslimit.MmioPtrs.Give()
}

// Offset returns the pointer's byte offset into its backing object.
func (p SafePtr[T, R]) Offset() uintptr { return p.offset }

// Add moves the pointer forward by n elements of T.
func (p SafePtr[T, R]) Add(n uintptr) (SafePtr[T, R], kerrors.Err_t) {
	return p.ByteAdd(n * sizeOf[T]())
}

// ByteAdd moves the pointer forward by n bytes.
func (p SafePtr[T, R]) ByteAdd(n uintptr) (SafePtr[T, R], kerrors.Err_t) {
	next := p.offset + n
	if next+sizeOf[T]() > p.mem.Len() {
		return SafePtr[T, R]{}, kerrors.InvalidArgs
	}
	return SafePtr[T, R]{mem: p.mem, offset: next}, kerrors.OK
}

// Read copies the pointee out of the backing object. Only compiles for a
// SafePtr whose rights grant Read.
func Read[T any, R reader](p SafePtr[T, R]) (T, kerrors.Err_t) {
	var v T
	buf := make([]byte, sizeOf[T]())
	if err := p.mem.ReadBytes(p.offset, buf); err != nil {
		return v, kerrors.IoError
	}
	v = *(*T)(unsafe.Pointer(&buf[0]))
	return v, kerrors.OK
}

// Write copies v into the backing object. Only compiles for a SafePtr
// whose rights grant Write.
func Write[T any, R writer](p SafePtr[T, R], v T) kerrors.Err_t {
	sz := sizeOf[T]()
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&v)), int(sz))
	if err := p.mem.WriteBytes(p.offset, buf); err != nil {
		return kerrors.IoError
	}
	return kerrors.OK
}

// ReadOnce reads the pointee with a single non-tearing load when T is 4
// or 8 bytes wide (the widths a confidential-VM hypervisor actually
// intercepts as one MMIO access); other widths fall back to a plain copy
// since sync/atomic offers no operation of those widths.
func ReadOnce[T any, R reader](p SafePtr[T, R]) (T, kerrors.Err_t) {
	var v T
	b, err := p.mem.Bytes(p.offset, sizeOf[T]())
	if err != nil {
		return v, kerrors.IoError
	}
	readOnceInto(unsafe.Pointer(&v), b)
	return v, kerrors.OK
}

// WriteOnce writes the pointee with a single non-tearing store when T is
// 4 or 8 bytes wide; see ReadOnce.
func WriteOnce[T any, R writer](p SafePtr[T, R], v T) kerrors.Err_t {
	b, err := p.mem.Bytes(p.offset, sizeOf[T]())
	if err != nil {
		return kerrors.IoError
	}
	writeOnceFrom(b, unsafe.Pointer(&v))
	return kerrors.OK
}

// Cast reinterprets the pointer's target type, preserving its offset and
// rights. It charges a fresh MmioPtrs slot since it yields a new live
// handle distinct from p.
func Cast[U any, T any, R Rights](p SafePtr[T, R]) (SafePtr[U, R], kerrors.Err_t) {
	if p.offset+sizeOf[U]() > p.mem.Len() {
		return SafePtr[U, R]{}, kerrors.InvalidArgs
	}
	if !reslimit.Syslimit.MmioPtrs.Take() {
		return SafePtr[U, R]{}, kerrors.NotEnoughResources
	}
	return SafePtr[U, R]{mem: p.mem, offset: p.offset}, kerrors.OK
}

// Duplicate returns a second independent handle to the same address and
// rights. Only compiles for a SafePtr whose rights grant Duplicate.
func Duplicate[T any, R duplicator](p SafePtr[T, R]) (SafePtr[T, R], kerrors.Err_t) {
	if !reslimit.Syslimit.MmioPtrs.Take() {
		return SafePtr[T, R]{}, kerrors.NotEnoughResources
	}
	return SafePtr[T, R]{mem: p.mem, offset: p.offset}, kerrors.OK
}

// protector is implemented by a VmIo that can enforce rights on the host
// MMU, such as ArenaIo.
type protector interface {
	Protect(readable, writable bool) error
}

// Restrict narrows p's rights to R2, which must be a subset of R. Unlike
// Read/Write/Duplicate's compile-time gate, subset containment between
// two arbitrary rights markers isn't expressible as a Go type constraint,
// so this one check is necessarily a runtime bit test rather than a
// compile error.
func Restrict[R2 Rights, T any, R Rights](p SafePtr[T, R]) (SafePtr[T, R2], kerrors.Err_t) {
	var have R
	var want R2
	if want.bits()&^have.bits() != 0 {
		log.WithField("have", have.bits()).WithField("want", want.bits()).Warn("rights restriction would widen access")
		return SafePtr[T, R2]{}, kerrors.AccessDenied
	}
	if prot, ok := p.mem.(protector); ok {
		readable := want.bits()&bitRead != 0
		writable := want.bits()&bitWrite != 0
		if err := prot.Protect(readable, writable); err != nil {
			return SafePtr[T, R2]{}, kerrors.IoError
		}
	}
	if !reslimit.Syslimit.MmioPtrs.Take() {
		return SafePtr[T, R2]{}, kerrors.NotEnoughResources
	}
	return SafePtr[T, R2]{mem: p.mem, offset: p.offset}, kerrors.OK
}

// FieldPtr produces a safe pointer to a struct field by byte-offset
// arithmetic, standing in for the field_ptr! macro: Go has no offsetof
// operator, so callers pass byteOffset explicitly (computed with
// unsafe.Offsetof at the call site) rather than naming the field.
func FieldPtr[F any, T any, R Rights](p SafePtr[T, R], byteOffset uintptr) (SafePtr[F, R], kerrors.Err_t) {
	next := p.offset + byteOffset
	if next+sizeOf[F]() > p.mem.Len() {
		return SafePtr[F, R]{}, kerrors.InvalidArgs
	}
	if !reslimit.Syslimit.MmioPtrs.Take() {
		return SafePtr[F, R]{}, kerrors.NotEnoughResources
	}
	return SafePtr[F, R]{mem: p.mem, offset: next}, kerrors.OK
}
