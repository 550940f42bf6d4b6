package kernel

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinAsync(q *WaitQueue, timeout <-chan time.Time) <-chan BlockResult {
	ch := make(chan BlockResult, 1)
	go func() {
		ch <- q.Join(timeout)
	}()
	return ch
}

func awaitLen(t *testing.T, q *WaitQueue, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return q.Len() == n }, time.Second, time.Millisecond)
}

func TestWaitQueueWakeEmpty(t *testing.T) {
	q := NewWaitQueue()
	assert.Equal(t, 0, q.WakeOne())
	assert.Equal(t, 0, q.WakeN(10))
	assert.Equal(t, 0, q.WakeAll())
	assert.Equal(t, 0, q.Len())
}

func TestWaitQueueFIFO(t *testing.T) {
	q := NewWaitQueue()
	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Join(nil)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)
		awaitLen(t, q, i+1)
	}
	for i := 0; i < 4; i++ {
		require.Equal(t, 1, q.WakeOne())
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(order) == i+1
		}, time.Second, time.Millisecond)
	}
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3}, order)
}

func TestWaitQueueWakeN(t *testing.T) {
	q := NewWaitQueue()
	results := make([]<-chan BlockResult, 3)
	for i := range results {
		results[i] = joinAsync(q, nil)
		awaitLen(t, q, i+1)
	}

	assert.Equal(t, 2, q.WakeN(2))
	assert.Equal(t, Woken, <-results[0])
	assert.Equal(t, Woken, <-results[1])
	assert.Equal(t, 1, q.Len())
	select {
	case <-results[2]:
		t.Fatal("third waiter woken by WakeN(2)")
	case <-time.After(20 * time.Millisecond):
	}

	assert.Equal(t, 1, q.WakeN(5), "wakes fewer than asked when the queue is short")
	assert.Equal(t, Woken, <-results[2])
}

func TestWaitQueueWakeAll(t *testing.T) {
	q := NewWaitQueue()
	results := make([]<-chan BlockResult, 5)
	for i := range results {
		results[i] = joinAsync(q, nil)
	}
	awaitLen(t, q, len(results))
	assert.Equal(t, len(results), q.WakeAll())
	for _, r := range results {
		assert.Equal(t, Woken, <-r)
	}
}

func TestWaitQueueTimeout(t *testing.T) {
	q := NewWaitQueue()
	start := time.Now()
	r := q.Join(time.After(10 * time.Millisecond))
	assert.Equal(t, TimedOut, r)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, 0, q.Len(), "timed out waiter must leave the queue")
	assert.Equal(t, 0, q.WakeOne())
}

func TestWaitQueueJoinIfRejects(t *testing.T) {
	q := NewWaitQueue()
	errNotReady := errors.New("not ready")
	_, err := q.JoinIf(nil, func() error { return errNotReady })
	require.ErrorIs(t, err, errNotReady)
	assert.Equal(t, 0, q.Len())
}

func TestWaitQueueJoinIfIsAtomicWithWake(t *testing.T) {
	// The waker starts while the check is still running. It cannot slip in
	// between the check and the enqueue, so it always finds the waiter.
	for i := 0; i < 100; i++ {
		q := NewWaitQueue()
		woke := make(chan int, 1)
		r, err := q.JoinIf(nil, func() error {
			go func() { woke <- q.WakeOne() }()
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, Woken, r)
		require.Equal(t, 1, <-woke)
	}
}

func TestWaitQueueWakeNeverLostToTimeout(t *testing.T) {
	for i := 0; i < 200; i++ {
		q := NewWaitQueue()
		timer := time.NewTimer(time.Duration(i%5) * 100 * time.Microsecond)
		res := joinAsync(q, timer.C)
		awaitLenAtMost(t, q, res)
		woken := q.WakeOne()
		r := <-res
		timer.Stop()
		if woken == 1 {
			require.Equal(t, Woken, r, "iteration %d: wake consumed but waiter reported %v", i, r)
		} else {
			require.Equal(t, TimedOut, r, "iteration %d", i)
		}
	}
}

// awaitLenAtMost waits until the waiter is either queued or already gone.
func awaitLenAtMost(t *testing.T, q *WaitQueue, res <-chan BlockResult) {
	t.Helper()
	require.Eventually(t, func() bool {
		return q.Len() == 1 || len(res) == 1
	}, time.Second, 10*time.Microsecond)
}

func TestWaitQueueClose(t *testing.T) {
	q := NewWaitQueue()
	results := make([]<-chan BlockResult, 3)
	for i := range results {
		results[i] = joinAsync(q, nil)
	}
	awaitLen(t, q, len(results))

	assert.Equal(t, len(results), q.Close())
	for _, r := range results {
		assert.Equal(t, Closed, <-r)
	}
	assert.Equal(t, Closed, q.Join(nil), "join after close must not park")
	assert.Equal(t, 0, q.Close())
	assert.Equal(t, 0, q.WakeAll())
}
