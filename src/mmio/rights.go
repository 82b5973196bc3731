package mmio

// rightBits is the runtime encoding behind the otherwise phantom rights
// markers below: SafePtr never inspects it in its own methods; only
// Restrict's subset check does. Read, Write and Duplicate gate on the
// reader/writer/duplicator interfaces instead.
type rightBits uint8

const (
	bitRead rightBits = 1 << iota
	bitWrite
	bitDuplicate
)

// Rights is implemented by SafePtr's phantom second type parameter,
// pinning a pointer's permitted operations at compile time the way
// ksync.SpinLock's flavor tag pins its locking discipline. Every concrete
// Rights value is a zero-size struct; bits() is only ever called on the
// zero value to recover which operations it stands for.
type Rights interface {
	bits() rightBits
}

// reader, writer and duplicator are narrower than Rights: a concrete
// rights type only satisfies one of them if it actually grants that
// operation. Read, Write and Duplicate are declared generic over these
// interfaces rather than over Rights itself, so a SafePtr[T, WriteOnly]
// simply does not type-check as an argument to Read — the compiler
// enforces the rights check, not a runtime assertion.
type reader interface {
	Rights
	canRead()
}

type writer interface {
	Rights
	canWrite()
}

type duplicator interface {
	Rights
	canDuplicate()
}

// ReadOnly grants Read alone.
type ReadOnly struct{}

func (ReadOnly) bits() rightBits { return bitRead }
func (ReadOnly) canRead()        {}

// WriteOnly grants Write alone.
type WriteOnly struct{}

func (WriteOnly) bits() rightBits { return bitWrite }
func (WriteOnly) canWrite()       {}

// ReadWrite grants Read and Write.
type ReadWrite struct{}

func (ReadWrite) bits() rightBits { return bitRead | bitWrite }
func (ReadWrite) canRead()        {}
func (ReadWrite) canWrite()       {}

// Full grants Read, Write and Duplicate. NewSafePtr does not default to it:
// the caller names the rights type a new SafePtr carries.
type Full struct{}

func (Full) bits() rightBits { return bitRead | bitWrite | bitDuplicate }
func (Full) canRead()        {}
func (Full) canWrite()       {}
func (Full) canDuplicate()   {}
