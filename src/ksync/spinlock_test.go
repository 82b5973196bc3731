package ksync

import "testing"

func TestSpinLockMutualExclusion(t *testing.T) {
	var l SpinLock[LocalIrqDisabled]
	l.Lock()
	if l.TryLock() {
		t.Fatal("TryLock should fail while held")
	}
	l.Unlock()
	if !l.TryLock() {
		t.Fatal("TryLock should succeed once released")
	}
	l.Unlock()
}
