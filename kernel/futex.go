package kernel

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	linux "github.com/wnxd/microdbg-futex"
	"go.uber.org/zap"
)

const (
	FUTEX_WAIT = iota
	FUTEX_WAKE
	FUTEX_FD
	FUTEX_REQUEUE
	FUTEX_CMP_REQUEUE
	FUTEX_WAKE_OP
	FUTEX_LOCK_PI
	FUTEX_UNLOCK_PI
	FUTEX_TRYLOCK_PI
	FUTEX_WAIT_BITSET
	FUTEX_WAKE_BITSET
	FUTEX_WAIT_REQUEUE_PI
	FUTEX_CMP_REQUEUE_PI
	FUTEX_PRIVATE_FLAG   = 128
	FUTEX_CLOCK_REALTIME = 256
	FUTEX_CMD_MASK       = ^(FUTEX_PRIVATE_FLAG | FUTEX_CLOCK_REALTIME)
)

var futexCmdNames = [...]string{
	FUTEX_WAIT:            "FUTEX_WAIT",
	FUTEX_WAKE:            "FUTEX_WAKE",
	FUTEX_FD:              "FUTEX_FD",
	FUTEX_REQUEUE:         "FUTEX_REQUEUE",
	FUTEX_CMP_REQUEUE:     "FUTEX_CMP_REQUEUE",
	FUTEX_WAKE_OP:         "FUTEX_WAKE_OP",
	FUTEX_LOCK_PI:         "FUTEX_LOCK_PI",
	FUTEX_UNLOCK_PI:       "FUTEX_UNLOCK_PI",
	FUTEX_TRYLOCK_PI:      "FUTEX_TRYLOCK_PI",
	FUTEX_WAIT_BITSET:     "FUTEX_WAIT_BITSET",
	FUTEX_WAKE_BITSET:     "FUTEX_WAKE_BITSET",
	FUTEX_WAIT_REQUEUE_PI: "FUTEX_WAIT_REQUEUE_PI",
	FUTEX_CMP_REQUEUE_PI:  "FUTEX_CMP_REQUEUE_PI",
}

type futexOp int32

func (op futexOp) cmd() int32 {
	return int32(op) & FUTEX_CMD_MASK
}

func (op futexOp) String() string {
	cmd := op.cmd()
	var s string
	if cmd >= 0 && int(cmd) < len(futexCmdNames) {
		s = futexCmdNames[cmd]
	} else {
		s = strconv.Itoa(int(cmd))
	}
	if op&FUTEX_CLOCK_REALTIME != 0 {
		s += "|FUTEX_CLOCK_REALTIME"
	}
	if op&FUTEX_PRIVATE_FLAG != 0 {
		s += "|FUTEX_PRIVATE_FLAG"
	}
	return s
}

// futexTable maps a guest address to its wait queue. Queues are created on
// first use and live as long as the table.
type futexTable struct {
	queues sync.Map
	closed atomic.Bool
}

func (t *futexTable) queue(key emuptr) *WaitQueue {
	if q, ok := t.queues.Load(key); ok {
		return q.(*WaitQueue)
	}
	v, _ := t.queues.LoadOrStore(key, NewWaitQueue())
	q := v.(*WaitQueue)
	if t.closed.Load() {
		// created after close started; nothing will ever drain it
		q.Close()
	}
	return q
}

func (t *futexTable) lookup(key emuptr) (*WaitQueue, bool) {
	q, ok := t.queues.Load(key)
	if !ok {
		return nil, false
	}
	return q.(*WaitQueue), true
}

func (t *futexTable) len() int {
	n := 0
	t.queues.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// close releases every parked waiter with Closed and empties the table.
// Queues handed out afterwards are already closed.
func (t *futexTable) close() int {
	t.closed.Store(true)
	released := 0
	t.queues.Range(func(key, q any) bool {
		released += q.(*WaitQueue).Close()
		t.queues.Delete(key)
		return true
	})
	return released
}

type futex struct {
	table futexTable
	clock func() time.Time
	log   *zap.Logger
}

func (f *futex) ctor(clock func() time.Time, log *zap.Logger) {
	f.clock = clock
	f.log = log
}

func (f *futex) dtor() {
	if n := f.table.close(); n != 0 {
		f.log.Debug("futex: released waiters on close", zap.Int("released", n))
	}
}

func (f *futex) futex(ctx linux.Context, uaddr emuptr, op int32, val int32, utime emuptr) int32 {
	fop := futexOp(op)
	raw, err := loadUint32(ctx, uaddr)
	if err != nil {
		f.log.Warn("futex: bad address", zap.Uint64("uaddr", uaddr), zap.Stringer("op", fop), zap.Error(err))
		ctx.SetErrno(linux.EFAULT)
		return -1
	}
	switch fop.cmd() {
	case FUTEX_WAIT:
		return f.wait(ctx, uaddr, raw, uint32(val), utime)
	case FUTEX_WAKE:
		f.wake(uaddr, val)
		return 0
	}
	f.log.Debug("futex: ignoring op", zap.Uint64("uaddr", uaddr), zap.Stringer("op", fop))
	return 0
}

func (f *futex) wait(ctx linux.Context, uaddr emuptr, raw, val uint32, utime emuptr) int32 {
	var (
		ts       timespec
		deadline bool
	)
	if utime != emunullptr {
		err := memExtract(ctx, utime, 2*ctx.PointerSize(), &ts)
		if err != nil {
			f.log.Warn("futex: bad timeout", zap.Uint64("utime", utime), zap.Error(err))
			ctx.SetErrno(linux.EFAULT)
			return -1
		}
		deadline = true
	}
	if raw != val {
		ctx.SetErrno(linux.EAGAIN)
		return -1
	}
	if f.table.closed.Load() {
		ctx.SetErrno(linux.EPERM)
		return -1
	}
	var timeout <-chan time.Time
	if deadline {
		d := relativeTimeout(ts, f.clock())
		if d <= 0 {
			ctx.SetErrno(linux.ETIMEDOUT)
			return -1
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}
	f.log.Debug("futex: wait", zap.Int("tid", ctx.TaskID()), zap.Uint64("uaddr", uaddr), zap.Uint32("val", val))
	// Signals cannot interrupt the wait; only a wake or the timeout ends it.
	r, err := f.table.queue(uaddr).JoinIf(timeout, func() error {
		cur, err := loadUint32(ctx, uaddr)
		if err != nil {
			return err
		}
		if cur != val {
			return linux.EAGAIN
		}
		return nil
	})
	if err != nil {
		var errno linux.Errno
		if !errors.As(err, &errno) {
			f.log.Warn("futex: bad address", zap.Uint64("uaddr", uaddr), zap.Error(err))
			errno = linux.EFAULT
		}
		ctx.SetErrno(errno)
		return -1
	}
	switch r {
	case TimedOut:
		f.log.Debug("futex: wait timed out", zap.Int("tid", ctx.TaskID()), zap.Uint64("uaddr", uaddr))
		ctx.SetErrno(linux.ETIMEDOUT)
		return -1
	case Closed:
		ctx.SetErrno(linux.EPERM)
		return -1
	}
	return 0
}

// wake never reports the woken count to the guest. Counts below one are
// ignored.
func (f *futex) wake(uaddr emuptr, count int32) int {
	var n int
	switch {
	case count == 1:
		n = f.table.queue(uaddr).WakeOne()
	case count > 1:
		n = f.table.queue(uaddr).WakeN(int(count))
	default:
		return 0
	}
	f.log.Debug("futex: wake", zap.Uint64("uaddr", uaddr), zap.Int32("count", count), zap.Int("released", n))
	return n
}
