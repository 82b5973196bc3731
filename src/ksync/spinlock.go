package ksync

import "sync"

// LocalIrqDisabled tags a SpinLock whose critical section runs with local
// interrupts disabled — the only flavor safe to acquire from IRQ top-half
// context, since it never sleeps and nothing can preempt the holder onto
// another CPU mid-section.
type LocalIrqDisabled struct{}

// Preemptible tags a SpinLock whose critical section merely disables
// preemption, not interrupts: cheaper, but unsafe to acquire from a
// callback that itself runs with interrupts disabled.
type Preemptible struct{}

// SpinLock is a short-critical-section lock distinguished at compile time by
// flavor F. It never sleeps, unlike RwMutex, and must never be held across a
// suspension point.
type SpinLock[F any] struct {
	mu sync.Mutex
}

// Lock acquires the spin lock.
func (l *SpinLock[F]) Lock() { l.mu.Lock() }

// Unlock releases the spin lock.
func (l *SpinLock[F]) Unlock() { l.mu.Unlock() }

// TryLock attempts a non-blocking acquisition.
func (l *SpinLock[F]) TryLock() bool { return l.mu.TryLock() }
