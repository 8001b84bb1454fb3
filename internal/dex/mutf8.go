package dex

import (
	"unicode/utf16"
	"unicode/utf8"
)

// Strings decoded from a dex file keep every UTF-16 code unit. Surrogate
// pairs become the rune they encode; an unpaired surrogate is kept as its
// three-byte generalized UTF-8 form (ED A0 80 for U+D800), so two strings
// compare equal exactly when their code units do and re-encoding yields the
// original bytes.

// DecodeMUTF8 decodes a NUL-terminated modified UTF-8 string from b.
// It returns the string, the number of UTF-16 code units it holds and the
// number of bytes consumed, including the terminator.
func DecodeMUTF8(b []byte) (string, int, int, error) {
	units := make([]uint16, 0, len(b))
	i := 0
	for {
		if i >= len(b) {
			return "", 0, 0, malformed("unterminated string")
		}
		a := b[i]
		i++
		switch {
		case a == 0:
			return unitsToString(units), len(units), i, nil
		case a < 0x80:
			units = append(units, uint16(a))
		case a&0xe0 == 0xc0:
			if i >= len(b) || b[i]&0xc0 != 0x80 {
				return "", 0, 0, malformed("bad second byte at %d", i)
			}
			units = append(units, uint16(a&0x1f)<<6|uint16(b[i]&0x3f))
			i++
		case a&0xf0 == 0xe0:
			if i+1 >= len(b) || b[i]&0xc0 != 0x80 || b[i+1]&0xc0 != 0x80 {
				return "", 0, 0, malformed("bad continuation byte at %d", i)
			}
			units = append(units, uint16(a&0x0f)<<12|uint16(b[i]&0x3f)<<6|uint16(b[i+1]&0x3f))
			i += 2
		default:
			return "", 0, 0, malformed("bad byte 0x%02x at %d", a, i-1)
		}
	}
}

func unitsToString(units []uint16) string {
	out := make([]byte, 0, len(units))
	for i := 0; i < len(units); i++ {
		u := units[i]
		if utf16.IsSurrogate(rune(u)) && i+1 < len(units) {
			if r := utf16.DecodeRune(rune(u), rune(units[i+1])); r != utf8.RuneError {
				out = utf8.AppendRune(out, r)
				i++
				continue
			}
		}
		if utf16.IsSurrogate(rune(u)) {
			out = append(out, 0xe0|byte(u>>12), 0x80|byte(u>>6)&0x3f, 0x80|byte(u)&0x3f)
			continue
		}
		out = utf8.AppendRune(out, rune(u))
	}
	return string(out)
}

// stringUnits is the inverse of unitsToString. Bytes that are neither valid
// UTF-8 nor an encoded surrogate map to U+FFFD.
func stringUnits(s string) []uint16 {
	units := make([]uint16, 0, len(s))
	for i := 0; i < len(s); {
		if u, ok := surrogateAt(s, i); ok {
			units = append(units, u)
			i += 3
			continue
		}
		r, n := utf8.DecodeRuneInString(s[i:])
		i += n
		if r >= 0x10000 {
			hi, lo := utf16.EncodeRune(r)
			units = append(units, uint16(hi), uint16(lo))
			continue
		}
		units = append(units, uint16(r))
	}
	return units
}

func surrogateAt(s string, i int) (uint16, bool) {
	if i+2 >= len(s) || s[i] != 0xed || s[i+1] < 0xa0 || s[i+1] > 0xbf || s[i+2]&0xc0 != 0x80 {
		return 0, false
	}
	return 0xd000 | uint16(s[i+1]&0x3f)<<6 | uint16(s[i+2]&0x3f), true
}

// EncodeMUTF8 appends the modified UTF-8 form of s to dst without a
// terminator. NUL is written as C0 80 and supplementary characters as
// surrogate pairs.
func EncodeMUTF8(dst []byte, s string) []byte {
	for _, u := range stringUnits(s) {
		switch {
		case u != 0 && u <= 0x7f:
			dst = append(dst, byte(u))
		case u <= 0x7ff:
			dst = append(dst, byte(0xc0|(u>>6)&0x1f), byte(0x80|u&0x3f))
		default:
			dst = append(dst, byte(0xe0|(u>>12)&0x0f), byte(0x80|(u>>6)&0x3f), byte(0x80|u&0x3f))
		}
	}
	return dst
}

// UTF16Len is the number of UTF-16 code units in s.
func UTF16Len(s string) int {
	return len(stringUnits(s))
}
