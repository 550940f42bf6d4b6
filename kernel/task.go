package kernel

import (
	"os"

	linux "github.com/wnxd/microdbg-futex"
)

func (*Syscall) getpid(ctx linux.Context) pid_t {
	return pid_t(os.Getpid())
}

func (*Syscall) gettid(ctx linux.Context) pid_t {
	return pid_t(ctx.TaskID())
}
