package dex_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexdiff/internal/dex"
	"dexdiff/internal/dex/dextest"
)

func TestReadTableOfContents(t *testing.T) {
	data := sample().MustBuild(t)

	toc, err := dex.ReadTableOfContents(data)
	require.NoError(t, err)
	again, err := dex.ReadTableOfContents(data)
	require.NoError(t, err)
	assert.Equal(t, toc.Sections(), again.Sections())

	var total uint32
	for _, s := range toc.Sections() {
		total += s.ByteCount
		if !s.Exists() {
			assert.Zero(t, s.ByteCount, s.Type.String())
		}
	}
	assert.Equal(t, uint32(len(data)), total)
	assert.Equal(t, uint32(len(data)), toc.FileSize)

	assert.Equal(t, uint32(dex.HeaderSize), toc.Section(dex.TypeHeader).ByteCount)
	assert.Equal(t, uint32(2), toc.Section(dex.TypeClassDefs).Size)
	assert.Equal(t, uint32(64), toc.Section(dex.TypeClassDefs).ByteCount)
	for _, st := range []dex.SectionType{
		dex.TypeStringIDs, dex.TypeTypeIDs, dex.TypeProtoIDs, dex.TypeFieldIDs,
		dex.TypeMethodIDs, dex.TypeClassDefs, dex.TypeMapList, dex.TypeTypeLists,
		dex.TypeAnnotationSetRefLists, dex.TypeAnnotationSets, dex.TypeClassData,
		dex.TypeCodes, dex.TypeStringData, dex.TypeDebugInfos, dex.TypeAnnotations,
		dex.TypeEncodedArrays, dex.TypeAnnotationsDirs,
	} {
		s := toc.Section(st)
		assert.True(t, s.Exists(), st.String())
		if s.FourByteAligned {
			assert.Zero(t, s.Off%4, st.String())
		}
	}

	checksum, signature := mustDex(t, data).VerifyChecksum()
	assert.True(t, checksum)
	assert.True(t, signature)
}

func TestAbsentSectionInheritsPredecessorOffset(t *testing.T) {
	b := dextest.New()
	b.AddClass(&dextest.Class{Descriptor: "LEmpty;", Super: "Ljava/lang/Object;"})
	toc, err := dex.ReadTableOfContents(b.MustBuild(t))
	require.NoError(t, err)

	fields := toc.Section(dex.TypeFieldIDs)
	assert.False(t, fields.Exists())
	assert.Equal(t, toc.Section(dex.TypeProtoIDs).Off, fields.Off)
	assert.Zero(t, fields.ByteCount)
}

func TestReadTableOfContentsErrors(t *testing.T) {
	good := sample().MustBuild(t)
	toc, err := dex.ReadTableOfContents(good)
	require.NoError(t, err)
	mapOff := toc.Section(dex.TypeMapList).Off

	corrupt := func(f func(b []byte)) []byte {
		b := append([]byte(nil), good...)
		f(b)
		return b
	}

	entry := func(i uint32) uint32 { return mapOff + 4 + 12*i }

	tests := []struct {
		name      string
		data      []byte
		want      error
		malformed bool
	}{
		{"bad magic", corrupt(func(b []byte) { copy(b, "dex\n036\x00") }), dex.ErrBadMagic, false},
		{"short file", good[:0x20], dex.ErrBadMagic, false},
		{"header size", corrupt(func(b []byte) { binary.LittleEndian.PutUint32(b[36:], 0x78) }), dex.ErrBadHeader, true},
		{"endian tag", corrupt(func(b []byte) { binary.LittleEndian.PutUint32(b[40:], 0x78563412) }), dex.ErrBadHeader, true},
		{"no map", corrupt(func(b []byte) { binary.LittleEndian.PutUint32(b[52:], 0) }), dex.ErrBadHeader, true},
		{"inconsistent map", corrupt(func(b []byte) {
			// string_ids is the second map entry: bump its size
			binary.LittleEndian.PutUint32(b[entry(1)+4:], 9999)
		}), dex.ErrInconsistentMap, true},
		{"entry for section absent from header", corrupt(func(b []byte) {
			// field_ids_size and field_ids_off
			binary.LittleEndian.PutUint32(b[80:], 0)
			binary.LittleEndian.PutUint32(b[84:], 0)
		}), dex.ErrInconsistentMap, true},
		{"duplicate entry", corrupt(func(b []byte) {
			binary.LittleEndian.PutUint16(b[entry(2):], uint16(dex.TypeStringIDs))
		}), dex.ErrDuplicateMapEntry, true},
		{"swapped entries", corrupt(func(b []byte) {
			first := append([]byte(nil), b[entry(1):entry(2)]...)
			copy(b[entry(1):], b[entry(2):entry(3)])
			copy(b[entry(2):], first)
		}), dex.ErrUnsortedMap, true},
		{"unsorted map", corrupt(func(b []byte) {
			// swap the offsets of the two entries before the map list itself
			n := binary.LittleEndian.Uint32(b[mapOff:])
			last := entry(n - 2)
			prev := last - 12
			lo := binary.LittleEndian.Uint32(b[prev+8:])
			hi := binary.LittleEndian.Uint32(b[last+8:])
			binary.LittleEndian.PutUint32(b[prev+8:], hi)
			binary.LittleEndian.PutUint32(b[last+8:], lo)
		}), dex.ErrUnsortedMap, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dex.ReadTableOfContents(tt.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, tt.malformed, errors.Is(err, dex.ErrMalformedEncoding), "got %v", err)
		})
	}
}

func TestBadHeaderNamesField(t *testing.T) {
	data := sample().MustBuild(t)
	binary.LittleEndian.PutUint32(data[40:], 0x78563412)
	_, err := dex.ReadTableOfContents(data)
	require.ErrorIs(t, err, dex.ErrBadHeader)
	assert.Contains(t, err.Error(), "endian_tag")
}

func TestWriteHeaderAndMapRoundTrip(t *testing.T) {
	data := sample().MustBuild(t)
	toc, err := dex.ReadTableOfContents(data)
	require.NoError(t, err)

	h := dex.NewBuffer(nil)
	toc.WriteHeader(h)
	assert.Equal(t, data[:dex.HeaderSize], h.Bytes())

	m := dex.NewBuffer(nil)
	toc.WriteMap(m)
	off := toc.Section(dex.TypeMapList).Off
	assert.Equal(t, data[off:off+uint32(len(m.Bytes()))], m.Bytes())
}
