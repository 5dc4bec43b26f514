// Package scanner finds byte signatures with wildcard gaps in raw memory.
//
// A signature is written as whitespace separated hex bytes, with "??" (or "?")
// standing for any byte:
//
//	8B F0 81 FE C4 88 0A 80 0F 84 ?? ?? ?? ?? 81 FE 0D 9D 0A 80
//
// Find reports the lowest offset at which the whole pattern matches.
package scanner

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultScriptHostSignature locates the interpreter's line-execution routine:
//
//	8BF0          MOV ESI,EAX
//	81FE C4880A80 CMP ESI,800A88C4
//	0F84 ???????? JE  <rel32>
//	81FE 0D9D0A80 CMP ESI,800A9D0D
//
// It is specific to one host build; other builds are reported as unsupported.
const DefaultScriptHostSignature = "8B F0 81 FE C4 88 0A 80 0F 84 ?? ?? ?? ?? 81 FE 0D 9D 0A 80"

// Element is one position of a Pattern.
type Element struct {
	Value    byte
	Wildcard bool
}

// Matches reports whether b satisfies the element.
func (e Element) Matches(b byte) bool {
	return e.Wildcard || e.Value == b
}

// Pattern is an ordered byte signature.
type Pattern []Element

// Exact builds a pattern without wildcards.
func Exact(b []byte) Pattern {
	p := make(Pattern, len(b))
	for i, v := range b {
		p[i] = Element{Value: v}
	}
	return p
}

// Parse builds a pattern from its textual form.
func Parse(s string) (Pattern, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty signature")
	}

	p := make(Pattern, 0, len(fields))
	for i, f := range fields {
		if f == "?" || f == "??" {
			p = append(p, Element{Wildcard: true})
			continue
		}
		if len(f) != 2 {
			return nil, fmt.Errorf("signature element %d %q: want two hex digits", i, f)
		}
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("signature element %d %q: %w", i, f, err)
		}
		p = append(p, Element{Value: byte(v)})
	}
	return p, nil
}

// MustParse is Parse for signatures known at compile time.
func MustParse(s string) Pattern {
	p, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("scanner: %v", err))
	}
	return p
}

// String renders the pattern in the form accepted by Parse.
func (p Pattern) String() string {
	var sb strings.Builder
	for i, e := range p {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if e.Wildcard {
			sb.WriteString("??")
			continue
		}
		fmt.Fprintf(&sb, "%02X", e.Value)
	}
	return sb.String()
}

// Find returns the lowest offset in buf where p matches. A match must fit
// entirely inside buf; an empty pattern never matches.
func Find(buf []byte, p Pattern) (int, bool) {
	if len(p) == 0 || len(p) > len(buf) {
		return 0, false
	}

	last := len(buf) - len(p)
	for off := 0; off <= last; off++ {
		if matchAt(buf[off:], p) {
			return off, true
		}
	}
	return 0, false
}

func matchAt(window []byte, p Pattern) bool {
	for i, e := range p {
		if !e.Matches(window[i]) {
			return false
		}
	}
	return true
}
