package kernel

import (
	"bytes"
	"encoding/binary"

	"github.com/lunixbochs/struc"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	linux "github.com/wnxd/microdbg-futex"
	"go.uber.org/zap"
)

const SI_LOAD_SHIFT = 16

// sysinfo is the leading part of struct sysinfo; the high-memory fields and
// mem_unit follow at ABI dependent offsets.
type sysinfo struct {
	Uptime    long_t  `struc:"off_t"`
	Load1     ulong_t `struc:"size_t"`
	Load5     ulong_t `struc:"size_t"`
	Load15    ulong_t `struc:"size_t"`
	Totalram  ulong_t `struc:"size_t"`
	Freeram   ulong_t `struc:"size_t"`
	Sharedram ulong_t `struc:"size_t"`
	Bufferram ulong_t `struc:"size_t"`
	Totalswap ulong_t `struc:"size_t"`
	Freeswap  ulong_t `struc:"size_t"`
	Procs     uint16  `struc:"uint16"`
}

func alignUp(n, a int) int {
	return (n + a - 1) &^ (a - 1)
}

// sysinfoLayout returns the offset of mem_unit and the struct size for a
// guest word size.
func sysinfoLayout(ptr int) (memUnit, size int) {
	memUnit = alignUp(10*ptr+2+2, ptr) + 2*ptr
	size = alignUp(memUnit+4+max(0, 20-2*ptr-4), ptr)
	return
}

func loadFixed(avg float64) ulong_t {
	return ulong_t(avg * (1 << SI_LOAD_SHIFT))
}

func (sys *Syscall) sysinfo(ctx linux.Context, info emuptr) int32 {
	uptime, err := host.Uptime()
	if err != nil {
		ctx.SetErrno(linux.EINVAL)
		return -1
	}
	avg, err := load.Avg()
	if err != nil {
		ctx.SetErrno(linux.EINVAL)
		return -1
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		ctx.SetErrno(linux.EINVAL)
		return -1
	}
	sm, err := mem.SwapMemory()
	if err != nil {
		ctx.SetErrno(linux.EINVAL)
		return -1
	}
	pids, err := process.Pids()
	if err != nil {
		ctx.SetErrno(linux.EINVAL)
		return -1
	}
	si := sysinfo{
		Uptime:    long_t(uptime),
		Load1:     loadFixed(avg.Load1),
		Load5:     loadFixed(avg.Load5),
		Load15:    loadFixed(avg.Load15),
		Totalram:  ulong_t(vm.Total),
		Freeram:   ulong_t(vm.Free),
		Sharedram: ulong_t(vm.Shared),
		Bufferram: ulong_t(vm.Buffers),
		Totalswap: ulong_t(sm.Total),
		Freeswap:  ulong_t(sm.Free),
		Procs:     uint16(len(pids)),
	}
	var buf bytes.Buffer
	err = struc.PackWithOptions(&buf, &si, structOptions(ctx))
	if err != nil {
		ctx.SetErrno(linux.EINVAL)
		return -1
	}
	memUnit, size := sysinfoLayout(ctx.PointerSize())
	out := make([]byte, size)
	copy(out, buf.Bytes())
	binary.LittleEndian.PutUint32(out[memUnit:], 1)
	err = ctx.MemWrite(info, out)
	if err != nil {
		sys.log.Warn("sysinfo: bad pointer", zap.Uint64("info", info), zap.Error(err))
		ctx.SetErrno(linux.EFAULT)
		return -1
	}
	return 0
}
