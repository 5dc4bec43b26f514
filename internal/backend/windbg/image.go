package windbg

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Binject/debug/pe"

	"github.com/coral-mesh/macrotap/internal/backend"
)

// readFunc reads length bytes of target memory at addr.
type readFunc func(addr uint64, length int) ([]byte, error)

const (
	dosHeaderSize      = 0x40
	peOffsetField      = 0x3C
	optionalHeaderAt   = 24
	sizeOfImageField   = 56
	maxHeaderOffset    = 0x1000
	maxMappedImageSize = 1 << 30
)

// memoryReaderAt exposes a mapped image in the target as an io.ReaderAt.
// Offsets are relative virtual addresses.
type memoryReaderAt struct {
	read readFunc
	base uint64
	size int64
}

func (r *memoryReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= r.size {
		return 0, io.EOF
	}

	n := len(p)
	short := false
	if off+int64(n) > r.size {
		n = int(r.size - off)
		short = true
	}

	buf, err := r.read(r.base+uint64(off), n)
	if err != nil {
		return 0, err
	}
	copy(p, buf)
	if short {
		return n, io.EOF
	}
	return n, nil
}

// imageSize returns SizeOfImage from the headers of the image mapped at base.
func imageSize(read readFunc, base uint64) (uint32, error) {
	dos, err := read(base, dosHeaderSize)
	if err != nil {
		return 0, fmt.Errorf("read DOS header at %#x: %w", base, err)
	}
	if dos[0] != 'M' || dos[1] != 'Z' {
		return 0, fmt.Errorf("no image at %#x", base)
	}

	lfanew := binary.LittleEndian.Uint32(dos[peOffsetField:])
	if lfanew >= maxHeaderOffset {
		return 0, fmt.Errorf("PE header offset %#x out of range", lfanew)
	}

	hdr, err := read(base+uint64(lfanew), optionalHeaderAt+sizeOfImageField+4)
	if err != nil {
		return 0, fmt.Errorf("read PE header at %#x: %w", base+uint64(lfanew), err)
	}
	if string(hdr[:4]) != "PE\x00\x00" {
		return 0, fmt.Errorf("bad PE signature at %#x", base+uint64(lfanew))
	}

	size := binary.LittleEndian.Uint32(hdr[optionalHeaderAt+sizeOfImageField:])
	if size == 0 || size > maxMappedImageSize {
		return 0, fmt.Errorf("implausible image size %#x", size)
	}
	return size, nil
}

// resolveExport walks the export directory of the image mapped at base.
func resolveExport(read readFunc, base uint64, module, name string) (uint64, error) {
	size, err := imageSize(read, base)
	if err != nil {
		return 0, err
	}

	f, err := pe.NewFileFromMemory(&memoryReaderAt{read: read, base: base, size: int64(size)})
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", module, err)
	}
	defer func() { _ = f.Close() }()

	exports, err := f.Exports()
	if err != nil {
		return 0, fmt.Errorf("read exports of %s: %w", module, err)
	}
	for _, e := range exports {
		if e.Name == name {
			return base + uint64(e.VirtualAddress), nil
		}
	}
	return 0, fmt.Errorf("%s!%s: %w", module, name, backend.ErrExportNotFound)
}
