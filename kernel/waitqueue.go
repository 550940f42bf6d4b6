package kernel

import (
	"container/list"
	"sync"
	"time"
)

type BlockResult int

const (
	Woken BlockResult = iota
	TimedOut
	// Closed means the queue was torn down while the caller waited, or
	// before it could join.
	Closed
)

func (r BlockResult) String() string {
	switch r {
	case Woken:
		return "woken"
	case TimedOut:
		return "timed out"
	case Closed:
		return "closed"
	}
	return "unknown"
}

type waiter struct {
	elem *list.Element
	wake chan struct{}
	// res is set by the waker before wake is closed.
	res BlockResult
}

// park blocks until unpark or until timeout fires. A nil timeout never fires.
func (w *waiter) park(timeout <-chan time.Time) bool {
	select {
	case <-w.wake:
		return true
	case <-timeout:
		return false
	}
}

func (w *waiter) unpark(res BlockResult) {
	w.res = res
	close(w.wake)
}

// WaitQueue is a FIFO of parked tasks. Wakes release the oldest waiters first
// and never wait for them to resume.
type WaitQueue struct {
	mu      sync.Mutex
	waiters list.List
	closed  bool
}

func NewWaitQueue() *WaitQueue {
	return new(WaitQueue)
}

// Join parks the caller until it is woken or timeout fires.
func (q *WaitQueue) Join(timeout <-chan time.Time) BlockResult {
	r, _ := q.JoinIf(timeout, nil)
	return r
}

// JoinIf calls ready with the queue locked and parks the caller only if ready
// returns nil. A waker that takes the lock after ready has run is guaranteed
// to see the caller in the queue.
func (q *WaitQueue) JoinIf(timeout <-chan time.Time, ready func() error) (BlockResult, error) {
	w := &waiter{wake: make(chan struct{})}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Closed, nil
	}
	if ready != nil {
		if err := ready(); err != nil {
			q.mu.Unlock()
			return Woken, err
		}
	}
	w.elem = q.waiters.PushBack(w)
	q.mu.Unlock()

	if w.park(timeout) {
		return w.res, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if w.elem == nil {
		// a waker dequeued us before we got the lock back
		return w.res, nil
	}
	q.waiters.Remove(w.elem)
	w.elem = nil
	return TimedOut, nil
}

func (q *WaitQueue) WakeOne() int {
	return q.WakeN(1)
}

// WakeN releases up to n of the oldest waiters and returns how many it woke.
func (q *WaitQueue) WakeN(n int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.wakeLocked(n, Woken)
}

func (q *WaitQueue) WakeAll() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.wakeLocked(q.waiters.Len(), Woken)
}

// Close releases every waiter with Closed and makes later joins fail the
// same way. It is safe to call more than once.
func (q *WaitQueue) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return q.wakeLocked(q.waiters.Len(), Closed)
}

func (q *WaitQueue) wakeLocked(n int, res BlockResult) int {
	woken := 0
	for ; woken < n; woken++ {
		front := q.waiters.Front()
		if front == nil {
			break
		}
		w := q.waiters.Remove(front).(*waiter)
		w.elem = nil
		w.unpark(res)
	}
	return woken
}

func (q *WaitQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiters.Len()
}
