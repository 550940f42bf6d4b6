package kernel

import (
	stderrors "errors"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	linux "github.com/wnxd/microdbg-futex"
	"github.com/wnxd/microdbg/debugger"
	"github.com/wnxd/microdbg/emulator"
	emu_arm "github.com/wnxd/microdbg/emulator/arm"
	emu_arm64 "github.com/wnxd/microdbg/emulator/arm64"
)

var _ linux.Kernel = (*Kernel)(nil)

// Kernel serves syscalls trapped by the emulator for a single process.
type Kernel struct {
	sys      Syscall
	nrs      linux.NRTable
	err      atomic.Int32
	intrHook debugger.HookHandler
}

func NewKernel(dbg debugger.Debugger, opts ...Option) (*Kernel, error) {
	k := new(Kernel)
	var handleIntr debugger.InterruptCallback
	switch dbg.Emulator().Arch() {
	case emulator.ARCH_ARM:
		k.nrs = linux.NRTableARM
		handleIntr = k.armIntr
	case emulator.ARCH_ARM64:
		k.nrs = linux.NRTableARM64
		handleIntr = k.arm64Intr
	default:
		return nil, errors.Wrap(stderrors.ErrUnsupported, "kernel: arch")
	}
	hook, err := dbg.AddHook(emulator.HOOK_TYPE_INTR, handleIntr, nil, 1, 0)
	if err != nil {
		return nil, errors.Wrap(err, "kernel: add interrupt hook")
	}
	k.sys.ctor(opts...)
	k.intrHook = hook
	return k, nil
}

// Close releases the hook and wakes every task still parked on a futex.
func (k *Kernel) Close() error {
	k.intrHook.Close()
	return k.sys.Close()
}

func (k *Kernel) NR(no uint64) linux.NR {
	return k.nrs.Lookup(no)
}

func (k *Kernel) Syscall() linux.Syscall {
	return &k.sys
}

func (k *Kernel) Errno() linux.Errno {
	return linux.Errno(k.err.Load())
}

func (k *Kernel) SetErrno(err linux.Errno) {
	k.err.Store(int32(err))
}

func (k *Kernel) dispatch(ctx debugger.Context, nr uint64, args []uint64) (uint64, bool) {
	return k.call(nr, func() linux.Context { return linux.NewContext(ctx, k) }, args)
}

func (k *Kernel) call(nr uint64, newContext func() linux.Context, args []uint64) (uint64, bool) {
	call := k.sys.Get(k.NR(nr))
	if call == nil {
		return 0, false
	}
	k.SetErrno(0)
	return call(newContext(), args...), true
}

func (k *Kernel) armIntr(ctx debugger.Context, intno uint64, data any) debugger.HookResult {
	const CPSR_T = 1 << 5

	if intno != emu_arm.ARM_INTR_EXCP_SWI {
		return debugger.HookResult_Next
	}
	pc_cpsr, err := ctx.RegReadBatch(emu_arm.ARM_REG_PC, emu_arm.ARM_REG_CPSR)
	if err != nil {
		return debugger.HookResult_Next
	}
	if pc_cpsr[1]&CPSR_T != 0 {
		var code uint16
		err = ctx.ToPointer(pc_cpsr[0]-2).MemReadPtr(2, unsafe.Pointer(&code))
		if err != nil {
			return debugger.HookResult_Next
		} else if swi := code & 0xff; swi != 0 {
			return debugger.HookResult_Next
		}
	} else {
		var code uint32
		err = ctx.ToPointer(pc_cpsr[0]-4).MemReadPtr(4, unsafe.Pointer(&code))
		if err != nil {
			return debugger.HookResult_Next
		} else if swi := code & 0xffffff; swi != 0 {
			return debugger.HookResult_Next
		}
	}
	nr, err := ctx.RegRead(emu_arm.ARM_REG_R7)
	if err != nil {
		return debugger.HookResult_Next
	}
	args, err := ctx.RegReadBatch(emu_arm.ARM_REG_R0, emu_arm.ARM_REG_R1, emu_arm.ARM_REG_R2, emu_arm.ARM_REG_R3, emu_arm.ARM_REG_R4, emu_arm.ARM_REG_R5)
	if err != nil {
		return debugger.HookResult_Next
	}
	r, ok := k.dispatch(ctx, nr, args)
	if !ok {
		return debugger.HookResult_Next
	}
	// 32-bit guests see the low word only.
	ctx.RegWrite(emu_arm.ARM_REG_R0, uint64(uint32(r)))
	return debugger.HookResult_Done
}

func (k *Kernel) arm64Intr(ctx debugger.Context, intno uint64, data any) debugger.HookResult {
	if intno != emu_arm.ARM_INTR_EXCP_SWI {
		return debugger.HookResult_Next
	}
	pc, err := ctx.RegRead(emu_arm64.ARM64_REG_PC)
	if err != nil {
		return debugger.HookResult_Next
	}
	var code uint32
	err = ctx.ToPointer(pc-4).MemReadPtr(4, unsafe.Pointer(&code))
	if err != nil {
		return debugger.HookResult_Next
	}
	if swi := (code >> 5) & 0xffff; swi != 0 {
		return debugger.HookResult_Next
	}
	nr, err := ctx.RegRead(emu_arm64.ARM64_REG_X8)
	if err != nil {
		return debugger.HookResult_Next
	}
	args, err := ctx.RegReadBatch(emu_arm64.ARM64_REG_X0, emu_arm64.ARM64_REG_X1, emu_arm64.ARM64_REG_X2, emu_arm64.ARM64_REG_X3, emu_arm64.ARM64_REG_X4, emu_arm64.ARM64_REG_X5)
	if err != nil {
		return debugger.HookResult_Next
	}
	r, ok := k.dispatch(ctx, nr, args)
	if !ok {
		return debugger.HookResult_Next
	}
	ctx.RegWrite(emu_arm64.ARM64_REG_X0, r)
	return debugger.HookResult_Done
}
