package kernel

import (
	"math"
	"time"

	linux "github.com/wnxd/microdbg-futex"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	CLOCK_REALTIME        = 0
	CLOCK_REALTIME_COARSE = 5
)

type timespec struct {
	Sec  time_t `struc:"off_t"`
	Nsec long_t `struc:"off_t"`
}

type timeval struct {
	Sec  time_t      `struc:"off_t"`
	Usec suseconds_t `struc:"off_t"`
}

type timezone struct {
	Minuteswest int32 `struc:"int32"`
	Dsttime     int32 `struc:"int32"`
}

// absoluteTime is a wall-clock instant in one of the guest representations.
type absoluteTime interface {
	timeval() timeval
}

func (ts timespec) timeval() timeval {
	return timeval{Sec: ts.Sec, Usec: suseconds_t(ts.Nsec / 1e3)}
}

func (tv timeval) timeval() timeval {
	return tv
}

func timevalOf(t time.Time) timeval {
	return timeval{Sec: time_t(t.Unix()), Usec: suseconds_t(t.Nanosecond() / 1e3)}
}

func timespecOf(t time.Time) timespec {
	return timespec{Sec: time_t(t.Unix()), Nsec: long_t(t.Nanosecond())}
}

const (
	maxTimeout = time.Duration(math.MaxInt64)
	minTimeout = time.Duration(math.MinInt64)

	// maxTimeoutSec leaves room for the sub-second part.
	maxTimeoutSec = int64(maxTimeout/time.Second) - 2
)

// subSec returns a-b, or ok=false if it does not fit in an int64.
func subSec(a, b int64) (d int64, ok bool) {
	d = a - b
	if (b < 0 && d < a) || (b > 0 && d > a) {
		return 0, false
	}
	return d, true
}

// relativeTimeout returns abs-now at microsecond resolution. A result <= 0
// means the deadline has already passed. Deadlines too far away to represent
// saturate at maxTimeout or minTimeout.
func relativeTimeout(abs absoluteTime, now time.Time) time.Duration {
	tv, cur := abs.timeval(), timevalOf(now)
	usec := int64(tv.Usec)
	sec, ok := subSec(int64(tv.Sec), int64(cur.Sec))
	if ok {
		// fold a denormal usec field into seconds
		sec, ok = subSec(sec, -(usec / 1e6))
		usec %= 1e6
	}
	switch {
	case !ok && tv.Sec > 0, ok && sec > maxTimeoutSec:
		return maxTimeout
	case !ok, sec < -maxTimeoutSec:
		return minTimeout
	}
	return time.Duration(sec)*time.Second + time.Duration(usec-int64(cur.Usec))*time.Microsecond
}

func (sys *Syscall) clock_gettime(ctx linux.Context, clock clockid_t, tp emuptr) int32 {
	var ts timespec
	switch clock {
	case CLOCK_REALTIME, CLOCK_REALTIME_COARSE:
		ts = timespecOf(sys.now())
	default:
		var st unix.Timespec
		err := unix.ClockGettime(int32(clock), &st)
		if err != nil {
			ctx.SetErrno(linux.EINVAL)
			return -1
		}
		ts = timespec{Sec: time_t(st.Sec), Nsec: long_t(st.Nsec)}
	}
	err := memWrite(ctx, tp, &ts)
	if err != nil {
		sys.log.Warn("clock_gettime: bad timespec pointer", zap.Uint64("tp", tp), zap.Error(err))
		ctx.SetErrno(linux.EFAULT)
		return -1
	}
	return 0
}

func (sys *Syscall) gettimeofday(ctx linux.Context, tv, tz emuptr) int32 {
	now := sys.now()
	if tv != emunullptr {
		stv := timevalOf(now)
		err := memWrite(ctx, tv, &stv)
		if err != nil {
			ctx.SetErrno(linux.EFAULT)
			return -1
		}
	}
	if tz != emunullptr {
		_, offset := now.Zone()
		stz := timezone{Minuteswest: int32(-offset / 60)}
		err := memWrite(ctx, tz, &stz)
		if err != nil {
			ctx.SetErrno(linux.EFAULT)
			return -1
		}
	}
	return 0
}
