package scanner

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	p, err := Parse("8B f0 ?? ? 0F")
	require.NoError(t, err)
	require.Len(t, p, 5)

	assert.Equal(t, Element{Value: 0x8B}, p[0])
	assert.Equal(t, Element{Value: 0xF0}, p[1])
	assert.True(t, p[2].Wildcard)
	assert.True(t, p[3].Wildcard)
	assert.Equal(t, "8B F0 ?? ?? 0F", p.String())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", "   "},
		{"single digit", "8B F"},
		{"not hex", "8B ZZ"},
		{"too long", "8B0F"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.in)
			assert.Error(t, err)
		})
	}
}

func TestMustParse_DefaultSignature(t *testing.T) {
	p := MustParse(DefaultScriptHostSignature)
	assert.Len(t, p, 20)

	wildcards := 0
	for _, e := range p {
		if e.Wildcard {
			wildcards++
		}
	}
	assert.Equal(t, 4, wildcards)
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("XX") })
}

func TestFind(t *testing.T) {
	p := MustParse("AA ?? CC")

	tests := []struct {
		name   string
		buf    []byte
		want   int
		wantOK bool
	}{
		{"at start", []byte{0xAA, 0x00, 0xCC, 0x11}, 0, true},
		{"in middle", []byte{0x11, 0xAA, 0x42, 0xCC}, 1, true},
		{"lowest of two", []byte{0xAA, 0x01, 0xCC, 0xAA, 0x02, 0xCC}, 0, true},
		{"partial at end", []byte{0x00, 0x00, 0xAA, 0x01}, 0, false},
		{"no match", []byte{0xAA, 0x01, 0xCD}, 0, false},
		{"shorter than pattern", []byte{0xAA}, 0, false},
		{"empty buffer", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Find(tt.buf, p)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestFind_EmptyPattern(t *testing.T) {
	_, ok := Find([]byte{0x01, 0x02}, nil)
	assert.False(t, ok)
}

func TestFind_EmbeddedSignatureProperty(t *testing.T) {
	p := MustParse(DefaultScriptHostSignature)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 50; i++ {
		buf := make([]byte, 4096)
		// Noise without the signature's leading byte cannot produce an earlier match.
		for j := range buf {
			b := byte(rng.Intn(256))
			if b == 0x8B {
				b = 0x90
			}
			buf[j] = b
		}

		off := rng.Intn(len(buf) - len(p))
		for j, e := range p {
			if e.Wildcard {
				buf[off+j] = byte(rng.Intn(256))
				continue
			}
			buf[off+j] = e.Value
		}

		got, ok := Find(buf, p)
		require.True(t, ok)
		assert.Equal(t, off, got)
	}
}

func TestExact(t *testing.T) {
	p := Exact([]byte("MZ"))
	off, ok := Find([]byte("xxMZxx"), p)
	require.True(t, ok)
	assert.Equal(t, 2, off)
}
