// Package urlcodec implements the reversible encoding DecSync uses to turn
// arbitrary path/appId strings into filesystem-safe names (§4.B).
package urlcodec

import (
	"strings"
)

// safe reports whether b may appear unescaped in an encoded name.
func safe(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '-' || b == '_' || b == '.' || b == '~':
		return true
	}
	return false
}

const hexDigits = "0123456789ABCDEF"

// Encode turns s into a filesystem-safe name. Bytes outside the safe
// alphabet become uppercase %HH escapes. A result that would start with a
// literal '.' has its leading byte escaped as %2E so hidden engine files
// (decsync-sequence, etc.) stay distinguishable from encoded user paths.
func Encode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if safe(c) {
			b.WriteByte(c)
		} else {
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0xF])
		}
	}
	encoded := b.String()
	if strings.HasPrefix(encoded, ".") {
		encoded = "%2E" + encoded[1:]
	}
	return encoded
}

// Decode reverses Encode. It rejects any name starting with a literal '.'
// (those are reserved for engine-internal hidden files, never user path
// segments) and rewrites a leading %2E back to '.'. It returns false for
// any malformed escape, uses of lowercase hex digits, or characters
// outside the safe alphabet — all of which Encode never produces.
func Decode(s string) (string, bool) {
	if strings.HasPrefix(s, ".") {
		return "", false
	}
	if strings.HasPrefix(s, "%2E") {
		s = "." + s[3:]
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '%':
			if i+2 >= len(s) {
				return "", false
			}
			hi, ok1 := hexVal(s[i+1])
			lo, ok2 := hexVal(s[i+2])
			if !ok1 || !ok2 {
				return "", false
			}
			b.WriteByte(byte(hi<<4 | lo))
			i += 3
		case safe(c):
			b.WriteByte(c)
			i++
		default:
			return "", false
		}
	}
	return b.String(), true
}

func hexVal(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	default:
		return 0, false
	}
}
