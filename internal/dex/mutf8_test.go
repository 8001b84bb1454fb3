package dex

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMUTF8(t *testing.T) {
	tests := []struct {
		name  string
		s     string
		enc   []byte
		units int
	}{
		{"empty", "", nil, 0},
		{"ascii", "Lcom/app/A;", []byte("Lcom/app/A;"), 11},
		{"nul", "a\x00b", []byte{'a', 0xc0, 0x80, 'b'}, 3},
		{"two byte", "é", []byte{0xc3, 0xa9}, 1},
		{"three byte", "€", []byte{0xe2, 0x82, 0xac}, 1},
		{"supplementary", "\U0001F600", []byte{0xed, 0xa0, 0xbd, 0xed, 0xb8, 0x80}, 2},
		{"lone high surrogate", "\xed\xa0\x80", []byte{0xed, 0xa0, 0x80}, 1},
		{"lone low surrogate", "x\xed\xb0\x80", []byte{'x', 0xed, 0xb0, 0x80}, 2},
		{"reversed pair", "\xed\xb8\x80\xed\xa0\xbd", []byte{0xed, 0xb8, 0x80, 0xed, 0xa0, 0xbd}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := EncodeMUTF8(nil, tt.s)
			assert.Equal(t, tt.enc, enc)
			assert.Equal(t, len(tt.enc), MUTF8EncodedLen(tt.s))
			assert.Equal(t, tt.units, UTF16Len(tt.s))

			s, units, n, err := DecodeMUTF8(append(enc, 0))
			require.NoError(t, err)
			assert.Equal(t, tt.s, s)
			assert.Equal(t, tt.units, units)
			assert.Equal(t, len(enc)+1, n)
		})
	}
}

func TestMUTF8LoneSurrogatesStayDistinct(t *testing.T) {
	high, _, _, err := DecodeMUTF8([]byte{0xed, 0xa0, 0x80, 0})
	require.NoError(t, err)
	low, _, _, err := DecodeMUTF8([]byte{0xed, 0xb0, 0x80, 0})
	require.NoError(t, err)
	assert.NotEqual(t, high, low)
	assert.NotEqual(t, "\uFFFD", high)

	assert.Equal(t, []byte{0xed, 0xa0, 0x80}, EncodeMUTF8(nil, high))
	assert.Equal(t, []byte{0xed, 0xb0, 0x80}, EncodeMUTF8(nil, low))

	b := NewBuffer(nil)
	StringData{Value: high}.Encode(b)
	sd, err := ReadStringData(NewBuffer(b.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, high, sd.Value)
}

func TestMUTF8Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"unterminated", []byte("abc")},
		{"truncated two byte", []byte{0xc3}},
		{"bad continuation", []byte{0xe2, 0x02, 0xac, 0}},
		{"stray continuation", []byte{0x80, 0}},
		{"four byte lead", []byte{0xf0, 0x9f, 0x98, 0x80, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := DecodeMUTF8(tt.data)
			assert.True(t, errors.Is(err, ErrMalformedEncoding), "got %v", err)
		})
	}
}

func TestStringDataLengthPrefix(t *testing.T) {
	b := NewBuffer(nil)
	StringData{Value: "\U0001F600x"}.Encode(b)
	assert.Equal(t, byte(3), b.Bytes()[0])

	sd, err := ReadStringData(NewBuffer(b.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "\U0001F600x", sd.Value)

	bad := append([]byte{5}, b.Bytes()[1:]...)
	_, err = ReadStringData(NewBuffer(bad))
	assert.True(t, errors.Is(err, ErrMalformedEncoding))
}
