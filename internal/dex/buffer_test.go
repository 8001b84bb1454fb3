package dex

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferReadWrite(t *testing.T) {
	w := NewBuffer(nil)
	w.WriteUint8(0xab)
	w.WriteUint16(0x1234)
	w.AlignToFourBytesWithZeroFill()
	w.WriteUint32(0xdeadbeef)
	w.WriteInt32(-2)
	w.WriteBytes([]byte{1, 2, 3})
	w.WriteMUTF8("hi")
	assert.Equal(t, 4+4+4+3+3, len(w.Bytes()))
	assert.Equal(t, byte(0), w.Bytes()[3])

	r := NewBuffer(w.Bytes())
	u8, err := r.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0xab), u8)
	u16, err := r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), u16)
	require.NoError(t, r.AlignToFourBytes())
	assert.Equal(t, 4, r.Pos())
	u32, err := r.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), u32)
	i32, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(-2), i32)
	p, err := r.ReadBytes(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, p)
	s, units, err := r.ReadMUTF8()
	require.NoError(t, err)
	assert.Equal(t, "hi", s)
	assert.Equal(t, 2, units)
	assert.Equal(t, 0, r.Remaining())
}

func TestBufferBounds(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	b, err := NewBufferAt(data, 2, 5)
	require.NoError(t, err)

	_, err = b.ReadUint32()
	assert.True(t, errors.Is(err, ErrMalformedEncoding), "read crossing the limit")
	assert.Equal(t, 2, b.Pos(), "failed read does not move the cursor")

	v, err := b.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0403), v)

	assert.Error(t, b.Skip(2))
	assert.Error(t, b.Seek(-1))

	_, err = NewBufferAt(data, 6, 5)
	assert.Error(t, err)
	_, err = NewBufferAt(data, 0, 9)
	assert.Error(t, err)
}

func TestReaderCountGuard(t *testing.T) {
	b := NewBuffer([]byte{0xff, 0xff, 0xff, 0x7f, 0, 0})
	_, err := ReadTypeList(b)
	assert.True(t, errors.Is(err, ErrMalformedEncoding))
}
