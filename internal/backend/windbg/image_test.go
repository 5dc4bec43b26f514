package windbg

import (
	"encoding/binary"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/macrotap/internal/backend"
)

const imageBase = 0x75c00000

// exportingImage lays out a mapped PE32 DLL with one section holding an
// export directory for SysAllocString and SysFreeString.
func exportingImage() []byte {
	img := make([]byte, 0x2000)
	le := binary.LittleEndian

	copy(img, "MZ")
	le.PutUint32(img[0x3C:], 0x80)
	copy(img[0x80:], "PE\x00\x00")

	fh := img[0x84:]
	le.PutUint16(fh[0:], 0x14c)
	le.PutUint16(fh[2:], 1)
	le.PutUint16(fh[16:], 0xE0)
	le.PutUint16(fh[18:], 0x2102)

	oh := img[0x98:]
	le.PutUint16(oh[0:], 0x10b)
	le.PutUint32(oh[28:], imageBase)
	le.PutUint32(oh[32:], 0x1000)
	le.PutUint32(oh[36:], 0x200)
	le.PutUint32(oh[56:], 0x2000)
	le.PutUint32(oh[60:], 0x200)
	le.PutUint32(oh[92:], 16)
	le.PutUint32(oh[96:], 0x1000)
	le.PutUint32(oh[100:], 0x120)

	sh := img[0x98+0xE0:]
	copy(sh, ".edata")
	le.PutUint32(sh[8:], 0x1000)
	le.PutUint32(sh[12:], 0x1000)
	le.PutUint32(sh[16:], 0x1000)
	le.PutUint32(sh[20:], 0x1000)
	le.PutUint32(sh[36:], 0x40000040)

	ed := img[0x1000:]
	le.PutUint32(ed[12:], 0x1100)
	le.PutUint32(ed[16:], 1)
	le.PutUint32(ed[20:], 2)
	le.PutUint32(ed[24:], 2)
	le.PutUint32(ed[28:], 0x1040)
	le.PutUint32(ed[32:], 0x1060)
	le.PutUint32(ed[36:], 0x1080)

	le.PutUint32(img[0x1040:], 0x1500)
	le.PutUint32(img[0x1044:], 0x1600)
	le.PutUint32(img[0x1060:], 0x10A0)
	le.PutUint32(img[0x1064:], 0x10B0)
	le.PutUint16(img[0x1080:], 0)
	le.PutUint16(img[0x1082:], 1)
	copy(img[0x10A0:], "SysAllocString\x00")
	copy(img[0x10B0:], "SysFreeString\x00")
	copy(img[0x1100:], "oleaut32.dll\x00")
	return img
}

// mapped serves reads from data placed at base.
func mapped(base uint64, data []byte) readFunc {
	return func(addr uint64, length int) ([]byte, error) {
		if addr < base || addr+uint64(length) > base+uint64(len(data)) {
			return nil, fmt.Errorf("read %d bytes at %#x: not mapped", length, addr)
		}
		off := addr - base
		return append([]byte(nil), data[off:off+uint64(length)]...), nil
	}
}

func TestImageSize(t *testing.T) {
	size, err := imageSize(mapped(imageBase, exportingImage()), imageBase)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x2000), size)
}

func TestImageSize_Rejects(t *testing.T) {
	notImage := make([]byte, 0x200)

	farHeader := exportingImage()
	binary.LittleEndian.PutUint32(farHeader[0x3C:], 0x10000)

	badSig := exportingImage()
	copy(badSig[0x80:], "NE")

	zeroSize := exportingImage()
	binary.LittleEndian.PutUint32(zeroSize[0x98+56:], 0)

	for name, img := range map[string][]byte{
		"no MZ":            notImage,
		"header too far":   farHeader,
		"bad signature":    badSig,
		"zero image size":  zeroSize,
		"truncated header": exportingImage()[:0x40],
	} {
		t.Run(name, func(t *testing.T) {
			_, err := imageSize(mapped(imageBase, img), imageBase)
			assert.Error(t, err)
		})
	}
}

func TestResolveExport(t *testing.T) {
	read := mapped(imageBase, exportingImage())

	addr, err := resolveExport(read, imageBase, "OLEAUT32.dll", "SysFreeString")
	require.NoError(t, err)
	assert.Equal(t, uint64(imageBase+0x1600), addr)

	addr, err = resolveExport(read, imageBase, "OLEAUT32.dll", "SysAllocString")
	require.NoError(t, err)
	assert.Equal(t, uint64(imageBase+0x1500), addr)
}

func TestResolveExport_Missing(t *testing.T) {
	_, err := resolveExport(mapped(imageBase, exportingImage()), imageBase, "OLEAUT32.dll", "VariantClear")
	require.ErrorIs(t, err, backend.ErrExportNotFound)
	assert.Contains(t, err.Error(), "OLEAUT32.dll!VariantClear")
}

func TestMemoryReaderAt(t *testing.T) {
	data := []byte("0123456789")
	r := &memoryReaderAt{read: mapped(0x1000, data), base: 0x1000, size: int64(len(data))}

	buf := make([]byte, 4)
	n, err := r.ReadAt(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "2345", string(buf))

	n, err = r.ReadAt(buf, 8)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "89", string(buf[:n]))

	_, err = r.ReadAt(buf, 10)
	assert.Equal(t, io.EOF, err)
}
