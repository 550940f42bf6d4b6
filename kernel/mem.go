package kernel

import (
	"bytes"
	"encoding/binary"

	"github.com/lunixbochs/struc"
	linux "github.com/wnxd/microdbg-futex"
)

func structOptions(ctx linux.Context) *struc.Options {
	return &struc.Options{PtrSize: ctx.PointerSize() * 8, Order: binary.LittleEndian}
}

// memExtract decodes size bytes of guest memory at addr into v.
func memExtract(ctx linux.Context, addr emuptr, size int, v any) error {
	buf := make([]byte, size)
	err := ctx.MemRead(addr, buf)
	if err != nil {
		return err
	}
	return struc.UnpackWithOptions(bytes.NewReader(buf), v, structOptions(ctx))
}

func memWrite(ctx linux.Context, addr emuptr, v any) error {
	var buf bytes.Buffer
	err := struc.PackWithOptions(&buf, v, structOptions(ctx))
	if err != nil {
		return err
	}
	return ctx.MemWrite(addr, buf.Bytes())
}

func loadUint32(ctx linux.Context, addr emuptr) (uint32, error) {
	var raw [4]byte
	err := ctx.MemRead(addr, raw[:])
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(raw[:]), nil
}
