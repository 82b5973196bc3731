// Package reslimit tracks system-wide bounds on the substrate's countable
// resources, in the spirit of biscuit's limits package: a single struct of
// atomically-updated counters, each one a resource other packages Take()
// from and Give() back to rather than allocating unboundedly.
package reslimit

import "sync/atomic"

// Lhits counts limit-exhaustion events across all resources.
var Lhits int64

// Sysatomic_t is a numeric limit that can be atomically updated.
type Sysatomic_t struct {
	v int64
}

// Syslimit_t tracks system-wide bounds on the substrate's resources. Only
// Tasks, PerCpuDynamicSlots and MmioPtrs are charged (by ktask, percpu and
// mmio); no package in this module takes from Frames, IrqLines,
// WaitQueueWaiters, SlabObjects or BuddyPages, so those limits are not
// enforced.
type Syslimit_t struct {
	// Frames bounds the number of physical frames the allocator may hand
	// out at once (beyond what add_free_memory has registered).
	Frames Sysatomic_t
	// IrqLines bounds the number of simultaneously allocated IRQ lines.
	IrqLines Sysatomic_t
	// Tasks bounds the number of live Task handles.
	Tasks Sysatomic_t
	// WaitQueueWaiters bounds the number of tasks parked across all
	// WaitQueues at once.
	WaitQueueWaiters Sysatomic_t
	// SlabObjects bounds outstanding slab-tier allocations.
	SlabObjects Sysatomic_t
	// BuddyPages bounds outstanding buddy-allocator pages.
	BuddyPages Sysatomic_t
	// PerCpuDynamicSlots bounds dynamically registered per-CPU slots.
	PerCpuDynamicSlots Sysatomic_t
	// MmioPtrs bounds live SafePtr handles.
	MmioPtrs Sysatomic_t
}

// Syslimit holds the process-wide default limits.
var Syslimit = MkSysLimit()

// MkSysLimit returns the default set of limits.
func MkSysLimit() *Syslimit_t {
	l := &Syslimit_t{}
	l.Frames.Given(1 << 20) // 4 GiB worth of 4K frames
	l.IrqLines.Given(256)   // x86-style vector space
	l.Tasks.Given(1 << 16)
	l.WaitQueueWaiters.Given(1 << 16)
	l.SlabObjects.Given(1 << 24)
	l.BuddyPages.Given(1 << 20)
	l.PerCpuDynamicSlots.Given(4096)
	l.MmioPtrs.Given(1 << 16)
	return l
}

// Given increases the limit by n.
func (s *Sysatomic_t) Given(n uint) {
	atomic.AddInt64(&s.v, int64(n))
}

// Taken tries to decrement the limit by n, reporting whether it succeeded.
func (s *Sysatomic_t) Taken(n uint) bool {
	if atomic.AddInt64(&s.v, -int64(n)) >= 0 {
		return true
	}
	atomic.AddInt64(&s.v, int64(n))
	atomic.AddInt64(&Lhits, 1)
	return false
}

// Take decrements the limit by one and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool { return s.Taken(1) }

// Give increments the limit by one.
func (s *Sysatomic_t) Give() { s.Given(1) }

// Remaining returns the current value, for diagnostics only: it may be
// stale the instant it is read.
func (s *Sysatomic_t) Remaining() int64 {
	return atomic.LoadInt64(&s.v)
}
