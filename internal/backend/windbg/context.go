package windbg

import (
	"encoding/binary"

	"github.com/coral-mesh/macrotap/internal/backend"
)

const (
	contextI386    = 0x00010000
	contextControl = contextI386 | 0x1
	contextInteger = contextI386 | 0x2

	// trapFlag in EFLAGS single-steps the next instruction.
	trapFlag = 0x100
)

type floatingSaveArea struct {
	ControlWord   uint32
	StatusWord    uint32
	TagWord       uint32
	ErrorOffset   uint32
	ErrorSelector uint32
	DataOffset    uint32
	DataSelector  uint32
	RegisterArea  [80]byte
	Cr0NpxState   uint32
}

// x86Context is the 32-bit thread context, the layout shared by CONTEXT on
// x86 and WOW64_CONTEXT on x64.
type x86Context struct {
	ContextFlags uint32

	Dr0, Dr1, Dr2, Dr3, Dr6, Dr7 uint32

	FloatSave floatingSaveArea

	SegGs, SegFs, SegEs, SegDs uint32

	Edi, Esi, Ebx, Edx, Ecx, Eax uint32

	Ebp, Eip, SegCs, EFlags, Esp, SegSs uint32

	ExtendedRegisters [512]byte
}

func (c *x86Context) registers() backend.Registers {
	return backend.Registers{
		"eax":    uint64(c.Eax),
		"ebx":    uint64(c.Ebx),
		"ecx":    uint64(c.Ecx),
		"edx":    uint64(c.Edx),
		"esi":    uint64(c.Esi),
		"edi":    uint64(c.Edi),
		"ebp":    uint64(c.Ebp),
		"esp":    uint64(c.Esp),
		"eip":    uint64(c.Eip),
		"eflags": uint64(c.EFlags),
	}
}

// callFrame reads the return address and the first n stack arguments of a
// 32-bit stdcall or cdecl function on entry, with esp at the return address.
// singleStep sets or clears the trap flag.
func (c *x86Context) singleStep(on bool) {
	if on {
		c.EFlags |= trapFlag
	} else {
		c.EFlags &^= trapFlag
	}
}

// stepping reports whether the trap flag is set.
func (c *x86Context) stepping() bool {
	return c.EFlags&trapFlag != 0
}

func callFrame(read readFunc, esp uint64, n int) (uint64, []uint64, error) {
	buf, err := read(esp, 4*(n+1))
	if err != nil {
		return 0, nil, err
	}

	ret := uint64(binary.LittleEndian.Uint32(buf))
	params := make([]uint64, n)
	for i := range params {
		params[i] = uint64(binary.LittleEndian.Uint32(buf[4*(i+1):]))
	}
	return ret, params, nil
}
