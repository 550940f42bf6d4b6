package kernel

import (
	"time"

	linux "github.com/wnxd/microdbg-futex"
	"go.uber.org/zap"
)

type Option func(*Syscall)

func WithLogger(log *zap.Logger) Option {
	return func(sys *Syscall) {
		sys.log = log
	}
}

// WithClock sets the wall clock used for futex deadlines and gettimeofday.
func WithClock(clock func() time.Time) Option {
	return func(sys *Syscall) {
		sys.clock = clock
	}
}

// Syscall holds the state of one emulated process.
type Syscall struct {
	futex
	clock func() time.Time
	log   *zap.Logger
}

func NewSyscall(opts ...Option) *Syscall {
	sys := new(Syscall)
	sys.ctor(opts...)
	return sys
}

func (sys *Syscall) ctor(opts ...Option) {
	sys.clock = time.Now
	sys.log = zap.NewNop()
	for _, opt := range opts {
		opt(sys)
	}
	sys.futex.ctor(sys.clock, sys.log)
}

func (sys *Syscall) Close() error {
	sys.futex.dtor()
	return nil
}

func (sys *Syscall) now() time.Time {
	return sys.clock()
}

func (sys *Syscall) Get(nr linux.NR) func(linux.Context, ...uint64) uint64 {
	switch nr {
	case linux.NR_futex:
		return sys.Emulate_futex
	case linux.NR_clock_gettime:
		return sys.Emulate_clock_gettime
	case linux.NR_gettimeofday:
		return sys.Emulate_gettimeofday
	case linux.NR_getpid:
		return sys.Emulate_getpid
	case linux.NR_gettid:
		return sys.Emulate_gettid
	case linux.NR_sysinfo:
		return sys.Emulate_sysinfo
	}
	return nil
}

func (sys *Syscall) Emulate_futex(ctx linux.Context, args ...uint64) uint64 {
	r := sys.futex.futex(ctx, args[0], int32(args[1]), int32(args[2]), args[3])
	return uint64(r)
}

func (sys *Syscall) Emulate_clock_gettime(ctx linux.Context, args ...uint64) uint64 {
	r := sys.clock_gettime(ctx, clockid_t(args[0]), args[1])
	return uint64(r)
}

func (sys *Syscall) Emulate_gettimeofday(ctx linux.Context, args ...uint64) uint64 {
	r := sys.gettimeofday(ctx, args[0], args[1])
	return uint64(r)
}

func (sys *Syscall) Emulate_getpid(ctx linux.Context, args ...uint64) uint64 {
	r := sys.getpid(ctx)
	return uint64(r)
}

func (sys *Syscall) Emulate_gettid(ctx linux.Context, args ...uint64) uint64 {
	r := sys.gettid(ctx)
	return uint64(r)
}

func (sys *Syscall) Emulate_sysinfo(ctx linux.Context, args ...uint64) uint64 {
	r := sys.sysinfo(ctx, args[0])
	return uint64(r)
}
