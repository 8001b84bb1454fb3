package dex

import (
	"encoding/binary"
	"fmt"
)

// Buffer is a little-endian cursor over a byte slice. Reads are bounded by
// the limit the buffer was created with; writes append or overwrite at the
// current position and grow the slice as needed.
type Buffer struct {
	data  []byte
	pos   int
	limit int
}

// NewBuffer returns a buffer that reads all of data.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data, limit: len(data)}
}

// NewBufferAt returns a buffer positioned at off that may not read past end.
func NewBufferAt(data []byte, off, end int) (*Buffer, error) {
	if off < 0 || end > len(data) || off > end {
		return nil, malformed("offset 0x%x outside [0, 0x%x)", off, end)
	}
	return &Buffer{data: data, pos: off, limit: end}, nil
}

// Pos returns the cursor position.
func (b *Buffer) Pos() int { return b.pos }

// Limit returns the read bound.
func (b *Buffer) Limit() int { return b.limit }

// Bytes returns the underlying slice up to its written length.
func (b *Buffer) Bytes() []byte { return b.data }

// Remaining is the number of bytes that may still be read.
func (b *Buffer) Remaining() int { return b.limit - b.pos }

// Seek moves the cursor to an absolute position inside the readable range.
func (b *Buffer) Seek(pos int) error {
	if pos < 0 || pos > b.limit {
		return malformed("seek to 0x%x outside [0, 0x%x]", pos, b.limit)
	}
	b.pos = pos
	return nil
}

// Skip advances the cursor by n bytes.
func (b *Buffer) Skip(n int) error { return b.Seek(b.pos + n) }

func (b *Buffer) need(n int) error {
	if n < 0 || b.pos+n > b.limit {
		return malformed("read of %d bytes at 0x%x crosses end 0x%x", n, b.pos, b.limit)
	}
	return nil
}

func (b *Buffer) ReadUint8() (uint8, error) {
	if err := b.need(1); err != nil {
		return 0, err
	}
	v := b.data[b.pos]
	b.pos++
	return v, nil
}

func (b *Buffer) ReadUint16() (uint16, error) {
	if err := b.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(b.data[b.pos:])
	b.pos += 2
	return v, nil
}

func (b *Buffer) ReadUint32() (uint32, error) {
	if err := b.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(b.data[b.pos:])
	b.pos += 4
	return v, nil
}

func (b *Buffer) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return int32(v), err
}

// ReadBytes returns a copy of the next n bytes.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	if err := b.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b.data[b.pos:])
	b.pos += n
	return out, nil
}

func (b *Buffer) ReadULEB128() (uint32, error) {
	v, n, err := decodeULEB128(b.data[b.pos:b.limit])
	if err != nil {
		return 0, fmt.Errorf("at 0x%x: %w", b.pos, err)
	}
	b.pos += n
	return v, nil
}

// ReadULEB128p1 reads a uleb128 biased by one, so that NoIndex is encoded as 0.
func (b *Buffer) ReadULEB128p1() (int32, error) {
	v, err := b.ReadULEB128()
	return int32(v) - 1, err
}

func (b *Buffer) ReadSLEB128() (int32, error) {
	v, n, err := decodeSLEB128(b.data[b.pos:b.limit])
	if err != nil {
		return 0, fmt.Errorf("at 0x%x: %w", b.pos, err)
	}
	b.pos += n
	return v, nil
}

// ReadMUTF8 reads a NUL-terminated modified UTF-8 string. The caller checks
// the returned UTF-16 length against any length prefix.
func (b *Buffer) ReadMUTF8() (string, int, error) {
	s, units, n, err := DecodeMUTF8(b.data[b.pos:b.limit])
	if err != nil {
		return "", 0, fmt.Errorf("at 0x%x: %w", b.pos, err)
	}
	b.pos += n
	return s, units, nil
}

// AlignToFourBytes skips to the next multiple of four.
func (b *Buffer) AlignToFourBytes() error {
	return b.Seek((b.pos + 3) &^ 3)
}

func (b *Buffer) grow(n int) {
	end := b.pos + n
	if end > len(b.data) {
		if end > cap(b.data) {
			nd := make([]byte, end, 2*end)
			copy(nd, b.data)
			b.data = nd
		} else {
			b.data = b.data[:end]
		}
	}
	if end > b.limit {
		b.limit = end
	}
}

func (b *Buffer) WriteUint8(v uint8) {
	b.grow(1)
	b.data[b.pos] = v
	b.pos++
}

func (b *Buffer) WriteUint16(v uint16) {
	b.grow(2)
	binary.LittleEndian.PutUint16(b.data[b.pos:], v)
	b.pos += 2
}

func (b *Buffer) WriteUint32(v uint32) {
	b.grow(4)
	binary.LittleEndian.PutUint32(b.data[b.pos:], v)
	b.pos += 4
}

func (b *Buffer) WriteInt32(v int32) { b.WriteUint32(uint32(v)) }

func (b *Buffer) WriteBytes(p []byte) {
	b.grow(len(p))
	copy(b.data[b.pos:], p)
	b.pos += len(p)
}

func (b *Buffer) WriteULEB128(v uint32) { b.WriteBytes(AppendULEB128(nil, v)) }

func (b *Buffer) WriteULEB128p1(v int32) { b.WriteULEB128(uint32(v + 1)) }

func (b *Buffer) WriteSLEB128(v int32) { b.WriteBytes(AppendSLEB128(nil, v)) }

// WriteMUTF8 writes s in modified UTF-8 followed by a NUL terminator.
func (b *Buffer) WriteMUTF8(s string) {
	b.WriteBytes(append(EncodeMUTF8(nil, s), 0))
}

// AlignToFourBytesWithZeroFill pads with zero bytes to the next multiple of four.
func (b *Buffer) AlignToFourBytesWithZeroFill() {
	for b.pos&3 != 0 {
		b.WriteUint8(0)
	}
}

// MUTF8EncodedLen is the encoded length of s without its terminator.
func MUTF8EncodedLen(s string) int {
	return len(EncodeMUTF8(nil, s))
}

// reader wraps a Buffer and keeps the first error so that item decoders can
// read a whole record and check once.
type reader struct {
	b   *Buffer
	err error
}

func (r *reader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	v, err := r.b.ReadUint8()
	r.err = err
	return v
}

func (r *reader) u16() uint16 {
	if r.err != nil {
		return 0
	}
	v, err := r.b.ReadUint16()
	r.err = err
	return v
}

func (r *reader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.b.ReadUint32()
	r.err = err
	return v
}

func (r *reader) uleb() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.b.ReadULEB128()
	r.err = err
	return v
}

func (r *reader) ulebp1() int32 {
	if r.err != nil {
		return 0
	}
	v, err := r.b.ReadULEB128p1()
	r.err = err
	return v
}

func (r *reader) sleb() int32 {
	if r.err != nil {
		return 0
	}
	v, err := r.b.ReadSLEB128()
	r.err = err
	return v
}

func (r *reader) seek(pos int) {
	if r.err != nil {
		return
	}
	r.err = r.b.Seek(pos)
}

// count reads a u32 element count and rejects counts that cannot fit in
// the remaining bytes at elemSize bytes each.
func (r *reader) count(elemSize int) int {
	n := r.u32()
	if r.err == nil && uint64(n)*uint64(elemSize) > uint64(r.b.Remaining()) {
		r.err = malformed("count %d at 0x%x exceeds section", n, r.b.Pos()-4)
		return 0
	}
	return int(n)
}

// ulebCount is count for uleb128-prefixed lists whose elements take at least
// one byte.
func (r *reader) ulebCount() int {
	n := r.uleb()
	if r.err == nil && int64(n) > int64(r.b.Remaining()) {
		r.err = malformed("count %d exceeds section", n)
		return 0
	}
	return int(n)
}
