// Package payload recognizes executable images carried inside strings.
//
// Scripts that smuggle a binary often keep it in a string, either as raw
// characters or hex encoded, and the string is released once the binary has
// been written out. A candidate is an image when it starts with the DOS "MZ"
// magic and the little-endian offset at 0x3C points at a "PE" signature.
package payload

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/Binject/debug/pe"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/charmap"

	"github.com/coral-mesh/macrotap/internal/artifact"
	"github.com/coral-mesh/macrotap/internal/safe"
)

const (
	// MinCandidateLength is the shortest string, in characters, worth inspecting.
	MinCandidateLength = 98

	dosMagic       = "MZ"
	hexDOSMagic    = "4d5a"
	peSignature    = "PE"
	peOffsetField  = 0x3C
	peOffsetLength = 4
)

// BinaryArtifact is an executable image written to disk.
type BinaryArtifact struct {
	Path string
	Data []byte
}

// Detector inspects candidate strings and writes confirmed images.
type Detector struct {
	namer  *artifact.Namer
	logger zerolog.Logger
	write  func(path string, data []byte) error
}

// NewDetector creates a Detector that names artifacts with namer.
func NewDetector(namer *artifact.Namer, logger zerolog.Logger) *Detector {
	return &Detector{
		namer:  namer,
		logger: logger.With().Str("component", "payload").Logger(),
		write:  safe.WriteNew,
	}
}

// Inspect writes candidate out as a BinaryArtifact when it holds an
// executable image. It returns nil with a nil error when candidate is not an
// image, including when it is malformed.
func (d *Detector) Inspect(candidate string) (*BinaryArtifact, error) {
	data, ok := Decode(candidate)
	if !ok {
		return nil, nil
	}

	path := d.namer.Next(artifact.BinaryExt)
	if err := d.write(path, data); err != nil {
		return nil, err
	}

	ev := d.logger.Info().Str("path", path).Int("size", len(data))
	if machine, sections, ok := describe(data); ok {
		ev = ev.Uint16("machine", machine).Uint16("sections", sections)
	}
	ev.Msg("Write possible PE file")

	return &BinaryArtifact{Path: path, Data: data}, nil
}

// Decode returns the image bytes held by candidate and whether it is an
// executable image at all.
func Decode(candidate string) ([]byte, bool) {
	if utf8.RuneCountInString(candidate) < MinCandidateLength {
		return nil, false
	}

	var (
		data []byte
		err  error
	)
	if len(candidate) >= len(hexDOSMagic) && strings.EqualFold(candidate[:len(hexDOSMagic)], hexDOSMagic) {
		data, err = decodeHex(candidate)
	} else {
		data, err = charmap.ISO8859_1.NewEncoder().Bytes([]byte(candidate))
	}
	if err != nil {
		return nil, false
	}

	if !IsImage(data) {
		return nil, false
	}
	return data, true
}

// decodeHex decodes s, padding a truncated trailing nibble with zero.
func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		s += "0"
	}
	return hex.DecodeString(s)
}

// IsImage validates the DOS magic and the PE signature it points to.
func IsImage(data []byte) bool {
	if !bytes.HasPrefix(data, []byte(dosMagic)) {
		return false
	}
	if len(data) < peOffsetField+peOffsetLength {
		return false
	}

	offset := int64(binary.LittleEndian.Uint32(data[peOffsetField:]))
	end := offset + int64(len(peSignature))
	if end >= int64(len(data)) {
		return false
	}
	return string(data[offset:end]) == peSignature
}

// describe extracts header facts for logging. Truncated or unusual images
// are still written; they just log fewer fields.
func describe(data []byte) (machine, sections uint16, ok bool) {
	if !symbolsFit(data) {
		return 0, 0, false
	}
	defer func() {
		if recover() != nil {
			machine, sections, ok = 0, 0, false
		}
	}()

	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return 0, 0, false
	}
	defer func() { _ = f.Close() }()
	return f.FileHeader.Machine, f.FileHeader.NumberOfSections, true
}

// symbolsFit rejects COFF headers whose symbol and string tables reach past
// data. The parser sizes its allocations from those fields.
func symbolsFit(data []byte) bool {
	const (
		symbolSize   = 18
		pointerField = 8
		countField   = 12
	)

	header := int64(binary.LittleEndian.Uint32(data[peOffsetField:])) + peOffsetLength
	if header+countField+4 > int64(len(data)) {
		return false
	}

	pointer := int64(binary.LittleEndian.Uint32(data[header+pointerField:]))
	if pointer == 0 {
		return true
	}
	count := int64(binary.LittleEndian.Uint32(data[header+countField:]))
	strtab := pointer + count*symbolSize
	if strtab+4 > int64(len(data)) {
		return false
	}
	return strtab+int64(binary.LittleEndian.Uint32(data[strtab:])) <= int64(len(data))
}
