package frame

import "reflect"

// AnyFrameMeta is the type-erased metadata every allocated frame carries.
// Its OnDrop is invoked exactly once, when the refcount of the page it is
// attached to reaches zero, mirroring the drop-glue the original's
// AnyFrameMeta trait object runs through a vtable. Go interfaces always
// carry their full method set, so there is no vtable-presence hazard here;
// RegisterMeta exists purely so every metadata type is declared through the
// same call site the original's impl_frame_meta_for! macro required.
type AnyFrameMeta interface {
	// OnDrop is called once, synchronously, when the owning page's
	// refcount transitions to zero. It must not block or allocate.
	OnDrop()
}

var registeredMeta = map[string]bool{}

// RegisterMeta declares that T may be used as frame metadata. It is a no-op
// beyond bookkeeping: Go's interface dispatch needs no registration, but
// Alloc and AllocSegment panic if a type was never registered, which catches the same
// "forgot to wire drop glue" mistake the macro caught at compile time in the
// original.
func RegisterMeta[T AnyFrameMeta]() {
	var zero T
	registeredMeta[typeName(zero)] = true
}

func typeName(v any) string {
	return reflect.TypeOf(v).String()
}

func isRegistered[T AnyFrameMeta]() bool {
	var zero T
	return registeredMeta[typeName(zero)]
}

// EarlyAllocatedFrameMeta marks a frame handed out by the bump-phase
// allocator before the typed-metadata phase took over. It carries no extra
// state; its presence is the signal a post-boot consumer uses to detect a
// page it must re-type before use.
type EarlyAllocatedFrameMeta struct{}

func (EarlyAllocatedFrameMeta) OnDrop() {}

func init() {
	RegisterMeta[EarlyAllocatedFrameMeta]()
}
