package ksync

import (
	"container/list"
	"sync"

	"kerrors"
)

// WaitQueue is a FIFO queue of parked waiters. wait evaluates a predicate
// with the queue's lock held; if it is false the caller parks until woken,
// then re-evaluates — this predicate-based design is what eliminates lost
// wakeups: a wake that arrives between the failed check and the park is
// never missed, because the waiter is already registered under the same
// lock the predicate was evaluated under.
type WaitQueue struct {
	mu      sync.Mutex
	waiters list.List // of chan struct{}
}

// wait blocks until pred returns true, which it evaluates with the queue
// lock held both before parking and after every wake.
func (q *WaitQueue) wait(pred func() bool) {
	for {
		q.mu.Lock()
		if pred() {
			q.mu.Unlock()
			return
		}
		ch := make(chan struct{})
		el := q.waiters.PushBack(ch)
		q.mu.Unlock()
		<-ch
		_ = el
	}
}

// waitUntil runs attempt with the queue lock held, parking and retrying
// until it succeeds, and returns the value attempt produced on success.
func waitUntil[T any](q *WaitQueue, attempt func() (T, bool)) T {
	var result T
	q.wait(func() bool {
		v, ok := attempt()
		if ok {
			result = v
		}
		return ok
	})
	return result
}

// WaitInterruptible blocks until pred returns true or cancel is closed,
// re-evaluating pred under the queue lock on every wake exactly like wait.
// If cancel fires before pred ever succeeds, the waiter unparks and
// WaitInterruptible returns kerrors.Interrupted without having run pred
// again; the caller is expected to retry or unwind. A wake that raced in
// concurrently with the cancellation is honored instead of being treated as
// an interruption, since the predicate may already hold.
func (q *WaitQueue) WaitInterruptible(pred func() bool, cancel <-chan struct{}) kerrors.Err_t {
	for {
		q.mu.Lock()
		if pred() {
			q.mu.Unlock()
			return kerrors.OK
		}
		ch := make(chan struct{})
		el := q.waiters.PushBack(ch)
		q.mu.Unlock()

		select {
		case <-ch:
			// Woken normally; loop back and re-check pred.
		case <-cancel:
			q.mu.Lock()
			stillQueued := false
			for e := q.waiters.Front(); e != nil; e = e.Next() {
				if e == el {
					stillQueued = true
					break
				}
			}
			if stillQueued {
				q.waiters.Remove(el)
			}
			q.mu.Unlock()
			if stillQueued {
				return kerrors.Interrupted
			}
			// WakeOne/WakeAll already removed and closed ch concurrently
			// with the cancellation; honor the wake, not the cancel.
			<-ch
		}
	}
}

// WakeOne wakes the longest-waiting parked task, if any.
func (q *WaitQueue) WakeOne() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if front := q.waiters.Front(); front != nil {
		q.waiters.Remove(front)
		close(front.Value.(chan struct{}))
	}
}

// WakeAll wakes every parked task.
func (q *WaitQueue) WakeAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for e := q.waiters.Front(); e != nil; e = e.Next() {
		close(e.Value.(chan struct{}))
	}
	q.waiters.Init()
}
