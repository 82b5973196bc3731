package ksync

import (
	"testing"
	"time"

	"kerrors"
)

func TestWaitInterruptibleReturnsOKOncePredHolds(t *testing.T) {
	var q WaitQueue
	ready := false
	cancel := make(chan struct{})

	done := make(chan kerrors.Err_t, 1)
	go func() { done <- q.WaitInterruptible(func() bool { return ready }, cancel) }()
	time.Sleep(5 * time.Millisecond)

	select {
	case <-done:
		t.Fatal("should still be parked before the predicate holds")
	default:
	}

	ready = true
	q.WakeOne()

	select {
	case errt := <-done:
		if errt != kerrors.OK {
			t.Fatalf("errt = %v, want OK", errt)
		}
	case <-time.After(time.Second):
		t.Fatal("did not wake after WakeOne with a true predicate")
	}
}

func TestWaitInterruptibleReturnsInterruptedOnCancel(t *testing.T) {
	var q WaitQueue
	cancel := make(chan struct{})

	done := make(chan kerrors.Err_t, 1)
	go func() { done <- q.WaitInterruptible(func() bool { return false }, cancel) }()
	time.Sleep(5 * time.Millisecond)

	close(cancel)

	select {
	case errt := <-done:
		if errt != kerrors.Interrupted {
			t.Fatalf("errt = %v, want Interrupted", errt)
		}
	case <-time.After(time.Second):
		t.Fatal("did not unpark after cancel was closed")
	}
}

func TestWaitInterruptibleDoesNotLeakWaiterAfterCancel(t *testing.T) {
	var q WaitQueue
	cancel := make(chan struct{})
	close(cancel)

	errt := q.WaitInterruptible(func() bool { return false }, cancel)
	if errt != kerrors.Interrupted {
		t.Fatalf("errt = %v, want Interrupted", errt)
	}

	q.mu.Lock()
	n := q.waiters.Len()
	q.mu.Unlock()
	if n != 0 {
		t.Fatalf("waiters.Len() = %d, want 0 after a cancelled wait removed itself", n)
	}
}
