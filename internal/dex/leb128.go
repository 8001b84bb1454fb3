package dex

// ULEB128Size returns the encoded length of v.
func ULEB128Size(v uint32) int {
	n := 1
	for v >>= 7; v != 0; v >>= 7 {
		n++
	}
	return n
}

// SLEB128Size returns the encoded length of v.
func SLEB128Size(v int32) int {
	n := 0
	end := int32(0)
	if v < 0 {
		end = -1
	}
	for {
		n++
		rem := v >> 7
		if rem == end && (rem&1) == ((v>>6)&1) {
			return n
		}
		v = rem
	}
}

// AppendULEB128 appends the unsigned LEB128 encoding of v to b.
func AppendULEB128(b []byte, v uint32) []byte {
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}

// AppendSLEB128 appends the signed LEB128 encoding of v to b.
func AppendSLEB128(b []byte, v int32) []byte {
	end := int32(0)
	if v < 0 {
		end = -1
	}
	for {
		rem := v >> 7
		more := rem != end || (rem&1) != ((v>>6)&1)
		c := byte(v & 0x7f)
		if more {
			c |= 0x80
		}
		b = append(b, c)
		if !more {
			return b
		}
		v = rem
	}
}

// decodeULEB128 reads at most five bytes from b.
func decodeULEB128(b []byte) (uint32, int, error) {
	var v uint32
	for i := 0; i < 5; i++ {
		if i >= len(b) {
			return 0, 0, malformed("truncated LEB128")
		}
		c := b[i]
		v |= uint32(c&0x7f) << (7 * i)
		if c&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	return 0, 0, malformed("invalid LEB128 sequence")
}

func decodeSLEB128(b []byte) (int32, int, error) {
	var v int32
	var shift uint
	for i := 0; i < 5; i++ {
		if i >= len(b) {
			return 0, 0, malformed("truncated LEB128")
		}
		c := b[i]
		v |= int32(c&0x7f) << shift
		shift += 7
		if c&0x80 == 0 {
			if shift < 32 && c&0x40 != 0 {
				v |= -1 << shift
			}
			return v, i + 1, nil
		}
	}
	return 0, 0, malformed("invalid LEB128 sequence")
}
