package windbg

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestX86Context_Layout(t *testing.T) {
	var c x86Context
	assert.Equal(t, uintptr(716), unsafe.Sizeof(c))
	assert.Equal(t, uintptr(0xA8), unsafe.Offsetof(c.Edx))
	assert.Equal(t, uintptr(0xB8), unsafe.Offsetof(c.Eip))
	assert.Equal(t, uintptr(0xC4), unsafe.Offsetof(c.Esp))
}

func TestX86Context_SingleStep(t *testing.T) {
	c := x86Context{EFlags: 0x246}
	assert.False(t, c.stepping())

	c.singleStep(true)
	assert.True(t, c.stepping())
	assert.Equal(t, uint32(0x346), c.EFlags)

	c.singleStep(false)
	assert.False(t, c.stepping())
	assert.Equal(t, uint32(0x246), c.EFlags, "other flags are preserved")
}

func TestX86Context_Registers(t *testing.T) {
	c := x86Context{Edx: 0x00501000, Eip: 0x6e000100, Esp: 0x0019f000}
	regs := c.registers()

	edx, ok := regs.Get("EDX")
	require.True(t, ok)
	assert.Equal(t, uint64(0x00501000), edx)

	eip, _ := regs.Get("eip")
	assert.Equal(t, uint64(0x6e000100), eip)

	_, ok = regs.Get("rax")
	assert.False(t, ok)
}

func TestCallFrame(t *testing.T) {
	stack := make([]byte, 16)
	binary.LittleEndian.PutUint32(stack[0:], 0x6e001234)
	binary.LittleEndian.PutUint32(stack[4:], 0x00500000)
	binary.LittleEndian.PutUint32(stack[8:], 0xdeadbeef)

	ret, params, err := callFrame(mapped(0x19f000, stack), 0x19f000, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x6e001234), ret)
	assert.Equal(t, []uint64{0x00500000}, params)

	_, params, err = callFrame(mapped(0x19f000, stack), 0x19f000, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x00500000, 0xdeadbeef}, params)

	_, _, err = callFrame(mapped(0x19f000, stack), 0x19f00c, 2)
	assert.Error(t, err)
}
