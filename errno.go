package linux

import "golang.org/x/sys/unix"

type Errno int32

const (
	EPERM     Errno = 1
	EAGAIN    Errno = 11
	EFAULT    Errno = 14
	EINVAL    Errno = 22
	ETIMEDOUT Errno = 110
)

func (e Errno) Error() string {
	return unix.Errno(e).Error()
}
