// Package ksync provides the substrate's sleep locks (RwMutex, WaitQueue)
// and interrupt-safe spin locks, following the bit-field state machine of
// the original RwMutex exactly: one atomic word encodes writer,
// upgradeable-reader, being-upgraded, an overflow guard, and the live
// reader count, all in the low bits below those three flags.
package ksync

import (
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	bitsInWord = 64

	writerBit        uint64 = 1 << (bitsInWord - 1)
	upreadBit        uint64 = 1 << (bitsInWord - 2)
	beingUpgradedBit uint64 = 1 << (bitsInWord - 3)
	maxReader        uint64 = 1 << (bitsInWord - 4)
	readerMask       uint64 = maxReader<<1 - 1
)

// spinBudget bounds how long an acquisition spins with exponential backoff
// before parking on the WaitQueue, per the design note that blocking
// acquisition should not busy-loop forever.
const spinBudget = 200 * time.Microsecond

// RwMutex is a reader-writer sleep lock with an upgradeable-read mode. The
// zero value is ready to use.
type RwMutex struct {
	state uint64
	wq    WaitQueue
}

// ReadGuard is held by a reader. Drop releases it.
type ReadGuard struct{ m *RwMutex }

// WriteGuard is held by the sole writer. Drop releases it.
type WriteGuard struct{ m *RwMutex }

// UpreadGuard is held by the sole upgradeable reader. Drop releases it.
type UpreadGuard struct{ m *RwMutex }

// TryRead attempts a non-blocking read acquisition. It fails if a writer
// holds the lock, an upgrade is in progress, or the reader count is already
// at the overflow guard.
func (m *RwMutex) TryRead() (ReadGuard, bool) {
	for {
		old := atomic.LoadUint64(&m.state)
		if old&(writerBit|beingUpgradedBit) != 0 {
			return ReadGuard{}, false
		}
		if old&readerMask >= maxReader {
			return ReadGuard{}, false
		}
		if atomic.CompareAndSwapUint64(&m.state, old, old+1) {
			return ReadGuard{m: m}, true
		}
	}
}

// TryWrite attempts a non-blocking write acquisition. It fails unless the
// lock is completely unheld.
func (m *RwMutex) TryWrite() (WriteGuard, bool) {
	if atomic.CompareAndSwapUint64(&m.state, 0, writerBit) {
		return WriteGuard{m: m}, true
	}
	return WriteGuard{}, false
}

// TryUpread attempts a non-blocking upgradeable-read acquisition. It fails
// if a writer holds the lock or another upgradeable reader already does.
func (m *RwMutex) TryUpread() (UpreadGuard, bool) {
	for {
		old := atomic.LoadUint64(&m.state)
		if old&(writerBit|upreadBit) != 0 {
			return UpreadGuard{}, false
		}
		if atomic.CompareAndSwapUint64(&m.state, old, old|upreadBit) {
			return UpreadGuard{m: m}, true
		}
	}
}

// Read blocks until a read acquisition succeeds.
func (m *RwMutex) Read() ReadGuard {
	if g, ok := m.TryRead(); ok {
		return g
	}
	return spinThenPark(&m.wq, m.TryRead)
}

// Write blocks until a write acquisition succeeds.
func (m *RwMutex) Write() WriteGuard {
	if g, ok := m.TryWrite(); ok {
		return g
	}
	return spinThenPark(&m.wq, m.TryWrite)
}

// Upread blocks until an upgradeable-read acquisition succeeds.
func (m *RwMutex) Upread() UpreadGuard {
	if g, ok := m.TryUpread(); ok {
		return g
	}
	return spinThenPark(&m.wq, m.TryUpread)
}

// spinThenPark spins attempt with bounded exponential backoff before
// falling back to parking on the queue, so a lock released a few
// microseconds from now doesn't force a full park/wake round trip.
func spinThenPark[T any](wq *WaitQueue, attempt func() (T, bool)) T {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Microsecond
	b.MaxInterval = 20 * time.Microsecond
	deadline := time.Now().Add(spinBudget)
	for time.Now().Before(deadline) {
		if v, ok := attempt(); ok {
			return v
		}
		time.Sleep(b.NextBackOff())
	}
	return waitUntil(wq, attempt)
}

// Drop releases the read guard. If this was the last reader (count
// transitions to zero), one waiter is woken.
func (g ReadGuard) Drop() {
	old := atomic.AddUint64(&g.m.state, ^uint64(0)) + 1 // value before the -1
	if old&readerMask == 0 {
		panic("ksync: RwMutex reader underflow")
	}
	if old&readerMask == 1 {
		g.m.wq.WakeOne()
	}
}

// Drop releases the write guard, waking every waiter: which of them
// proceeds (all readers, or one writer) is settled by each waiter's own
// wait_until predicate.
func (g WriteGuard) Drop() {
	if !atomic.CompareAndSwapUint64(&g.m.state, writerBit, 0) {
		panic("ksync: RwMutex write guard dropped with unexpected state")
	}
	g.m.wq.WakeAll()
}

// Downgrade atomically converts a write guard into an upread guard,
// clearing WRITER and setting UPGRADEABLE_READER in one step, then wakes
// every waiter since pending readers are no longer blocked by WRITER.
func (g WriteGuard) Downgrade() UpreadGuard {
	if !atomic.CompareAndSwapUint64(&g.m.state, writerBit, upreadBit) {
		panic("ksync: RwMutex downgrade from unexpected state")
	}
	g.m.wq.WakeAll()
	return UpreadGuard{m: g.m}
}

// Drop releases the upread guard. If no readers were present (this was the
// only bit set), every waiter is woken since the slot is now fully free.
func (g UpreadGuard) Drop() {
	m := g.m
	for {
		old := atomic.LoadUint64(&m.state)
		if old&upreadBit == 0 {
			panic("ksync: RwMutex upread guard dropped twice")
		}
		next := old &^ upreadBit
		if atomic.CompareAndSwapUint64(&m.state, old, next) {
			if old == upreadBit {
				m.wq.WakeAll()
			}
			return
		}
	}
}

// Upgrade blocks until every current reader has dropped, then atomically
// converts this upread guard into a write guard. While waiting,
// BEING_UPGRADED excludes any new reader (per TryRead's check) so the
// reader count can only shrink.
func (g UpreadGuard) Upgrade() WriteGuard {
	m := g.m
	for {
		old := atomic.LoadUint64(&m.state)
		if old&beingUpgradedBit != 0 {
			panic("ksync: concurrent Upgrade on the same RwMutex")
		}
		if atomic.CompareAndSwapUint64(&m.state, old, old|beingUpgradedBit) {
			break
		}
	}
	waitUntil(&m.wq, func() (struct{}, bool) {
		return struct{}{}, atomic.LoadUint64(&m.state)&readerMask == 0
	})
	for {
		old := atomic.LoadUint64(&m.state)
		if atomic.CompareAndSwapUint64(&m.state, old, writerBit) {
			break
		}
	}
	return WriteGuard{m: m}
}

// ReaderCount reports the live reader count, for diagnostics and tests
// only: it may be stale the instant it is read.
func (m *RwMutex) ReaderCount() uint64 {
	return atomic.LoadUint64(&m.state) & readerMask
}
