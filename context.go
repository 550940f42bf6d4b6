package linux

import (
	"unsafe"

	"github.com/pkg/errors"
	"github.com/wnxd/microdbg/debugger"
	"github.com/wnxd/microdbg/emulator"
)

// Context is the guest task a syscall runs on behalf of.
type Context interface {
	TaskID() int
	// PointerSize is the guest word size in bytes.
	PointerSize() int
	MemRead(addr uint64, p []byte) error
	MemWrite(addr uint64, p []byte) error
	Errno() Errno
	SetErrno(err Errno)
}

type context struct {
	ctx debugger.Context
	k   Kernel
	err Errno
}

func NewContext(ctx debugger.Context, k Kernel) Context {
	return &context{ctx: ctx, k: k}
}

func (c *context) TaskID() int {
	return int(c.ctx.TaskID())
}

func (c *context) PointerSize() int {
	switch c.ctx.Debugger().Emulator().Arch() {
	case emulator.ARCH_ARM64, emulator.ARCH_X86_64:
		return 8
	default:
		return 4
	}
}

func (c *context) MemRead(addr uint64, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	err := c.ctx.ToPointer(addr).MemReadPtr(uint64(len(p)), unsafe.Pointer(unsafe.SliceData(p)))
	if err != nil {
		return errors.Wrapf(err, "read %#x", addr)
	}
	return nil
}

func (c *context) MemWrite(addr uint64, p []byte) error {
	_, err := c.ctx.ToPointer(addr).WriteAt(p, 0)
	if err != nil {
		return errors.Wrapf(err, "write %#x", addr)
	}
	return nil
}

func (c *context) Errno() Errno {
	return c.err
}

func (c *context) SetErrno(err Errno) {
	c.err = err
	c.k.SetErrno(err)
}
