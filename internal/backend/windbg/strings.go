package windbg

import (
	"fmt"

	"golang.org/x/text/encoding/unicode"

	"github.com/coral-mesh/macrotap/internal/backend"
)

const (
	// maxStringBytes bounds ReadString.
	maxStringBytes = 0x10000

	pageSize = 0x1000
)

// readString reads a null-terminated string at addr one page at a time, so a
// string ending just before an unmapped page is still read in full.
func readString(read readFunc, addr uint64, wide bool, limit int) (string, error) {
	if addr == 0 {
		return "", backend.ErrNoData
	}

	var buf []byte
	for len(buf) < limit {
		at := addr + uint64(len(buf))
		chunk := pageSize - int(at%pageSize)
		if rest := limit - len(buf); chunk > rest {
			chunk = rest
		}

		b, err := read(at, chunk)
		if err != nil {
			if len(buf) == 0 {
				return "", fmt.Errorf("read string at %#x: %w", addr, err)
			}
			break
		}
		buf = append(buf, b...)

		if i := terminator(buf, wide); i >= 0 {
			buf = buf[:i]
			break
		}
	}

	if !wide {
		return string(buf), nil
	}
	return decodeWide(buf)
}

// terminator returns the index of the string terminator in b, or -1.
func terminator(b []byte, wide bool) int {
	if !wide {
		for i, c := range b {
			if c == 0 {
				return i
			}
		}
		return -1
	}
	for i := 0; i+1 < len(b); i += 2 {
		if b[i] == 0 && b[i+1] == 0 {
			return i
		}
	}
	return -1
}

// decodeWide converts UTF-16LE to UTF-8. A trailing odd byte is dropped and
// unpaired surrogates become U+FFFD.
func decodeWide(b []byte) (string, error) {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode wide string: %w", err)
	}
	return string(out), nil
}
