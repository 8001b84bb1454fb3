package dex

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"hash/adler32"
	"sort"
)

// SectionType is the map_list type code of a section.
type SectionType uint16

const (
	TypeHeader                SectionType = 0x0000
	TypeStringIDs             SectionType = 0x0001
	TypeTypeIDs               SectionType = 0x0002
	TypeProtoIDs              SectionType = 0x0003
	TypeFieldIDs              SectionType = 0x0004
	TypeMethodIDs             SectionType = 0x0005
	TypeClassDefs             SectionType = 0x0006
	TypeMapList               SectionType = 0x1000
	TypeTypeLists             SectionType = 0x1001
	TypeAnnotationSetRefLists SectionType = 0x1002
	TypeAnnotationSets        SectionType = 0x1003
	TypeClassData             SectionType = 0x2000
	TypeCodes                 SectionType = 0x2001
	TypeStringData            SectionType = 0x2002
	TypeDebugInfos            SectionType = 0x2003
	TypeAnnotations           SectionType = 0x2004
	TypeEncodedArrays         SectionType = 0x2005
	TypeAnnotationsDirs       SectionType = 0x2006
)

var sectionNames = map[SectionType]string{
	TypeHeader:                "header",
	TypeStringIDs:             "string_ids",
	TypeTypeIDs:               "type_ids",
	TypeProtoIDs:              "proto_ids",
	TypeFieldIDs:              "field_ids",
	TypeMethodIDs:             "method_ids",
	TypeClassDefs:             "class_defs",
	TypeMapList:               "map_list",
	TypeTypeLists:             "type_lists",
	TypeAnnotationSetRefLists: "annotation_set_ref_lists",
	TypeAnnotationSets:        "annotation_sets",
	TypeClassData:             "class_data",
	TypeCodes:                 "codes",
	TypeStringData:            "string_data",
	TypeDebugInfos:            "debug_infos",
	TypeAnnotations:           "annotations",
	TypeEncodedArrays:         "encoded_arrays",
	TypeAnnotationsDirs:       "annotations_directories",
}

func (t SectionType) String() string {
	if n, ok := sectionNames[t]; ok {
		return n
	}
	return fmt.Sprintf("section(0x%04x)", uint16(t))
}

// idSections are the sections whose size and offset the header carries.
var idSections = []SectionType{TypeStringIDs, TypeTypeIDs, TypeProtoIDs, TypeFieldIDs, TypeMethodIDs, TypeClassDefs}

// canonicalOrder is the layout order used to break offset ties and to place
// absent sections.
var canonicalOrder = []SectionType{
	TypeHeader, TypeStringIDs, TypeTypeIDs, TypeProtoIDs, TypeFieldIDs,
	TypeMethodIDs, TypeClassDefs, TypeMapList, TypeTypeLists,
	TypeAnnotationSetRefLists, TypeAnnotationSets, TypeClassData, TypeCodes,
	TypeStringData, TypeDebugInfos, TypeAnnotations, TypeEncodedArrays,
	TypeAnnotationsDirs,
}

var unaligned = map[SectionType]bool{
	TypeClassData:     true,
	TypeStringData:    true,
	TypeDebugInfos:    true,
	TypeAnnotations:   true,
	TypeEncodedArrays: true,
}

// Section describes one region of a dex file.
type Section struct {
	Type            SectionType
	Off             uint32
	Size            uint32
	ByteCount       uint32
	FourByteAligned bool
	present         bool
}

// Exists reports whether the section occupies space in the file.
func (s *Section) Exists() bool { return s.present || s.Type == TypeHeader }

// End is the first offset past the section.
func (s *Section) End() uint32 { return s.Off + s.ByteCount }

func (s *Section) String() string {
	return fmt.Sprintf("%-26s off=0x%08x size=%-6d bytes=%d", s.Type, s.Off, s.Size, s.ByteCount)
}

// TableOfContents is the reconstructed section layout of a dex file.
type TableOfContents struct {
	Checksum  uint32
	Signature [20]byte
	FileSize  uint32
	LinkSize  uint32
	LinkOff   uint32
	DataSize  uint32
	DataOff   uint32

	sections map[SectionType]*Section
}

// NewTableOfContents returns an empty table with every section kind.
func NewTableOfContents() *TableOfContents {
	t := &TableOfContents{sections: make(map[SectionType]*Section, len(canonicalOrder))}
	for _, st := range canonicalOrder {
		t.sections[st] = &Section{Type: st, FourByteAligned: !unaligned[st]}
	}
	h := t.sections[TypeHeader]
	h.Size = 1
	h.present = true
	return t
}

// Section returns the section of the given type.
func (t *TableOfContents) Section(st SectionType) *Section { return t.sections[st] }

// Sections returns all sections in canonical order.
func (t *TableOfContents) Sections() []*Section {
	out := make([]*Section, 0, len(canonicalOrder))
	for _, st := range canonicalOrder {
		out = append(out, t.sections[st])
	}
	return out
}

// ReadTableOfContents parses the header and map list of data.
func ReadTableOfContents(data []byte) (*TableOfContents, error) {
	t := NewTableOfContents()
	if err := t.readHeader(NewBuffer(data)); err != nil {
		return nil, err
	}
	if int(t.FileSize) != len(data) {
		return nil, malformed("header file_size %d, have %d bytes", t.FileSize, len(data))
	}
	if err := t.readMap(data); err != nil {
		return nil, err
	}
	if err := t.computeSizesFromOffsets(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *TableOfContents) readHeader(b *Buffer) error {
	if b.Remaining() < HeaderSize {
		return fmt.Errorf("%w: file is %d bytes", ErrBadMagic, b.Remaining())
	}
	magic, _ := b.ReadBytes(8)
	if !bytes.Equal(magic, []byte(Magic)) {
		return fmt.Errorf("%w: %q", ErrBadMagic, magic)
	}
	r := &reader{b: b}
	t.Checksum = r.u32()
	sig, err := b.ReadBytes(20)
	if err != nil {
		return err
	}
	copy(t.Signature[:], sig)
	t.FileSize = r.u32()
	headerSize := r.u32()
	if r.err == nil && headerSize != HeaderSize {
		return fmt.Errorf("%w: header_size 0x%x, want 0x%x", ErrBadHeader, headerSize, HeaderSize)
	}
	endian := r.u32()
	if r.err == nil && endian != EndianTag {
		return fmt.Errorf("%w: endian_tag 0x%08x, want 0x%08x", ErrBadHeader, endian, EndianTag)
	}
	t.LinkSize = r.u32()
	t.LinkOff = r.u32()
	mapList := t.sections[TypeMapList]
	mapList.Off = r.u32()
	if r.err == nil && mapList.Off == 0 {
		return fmt.Errorf("%w: map_off is zero", ErrBadHeader)
	}
	mapList.present = true
	for _, st := range idSections {
		s := t.sections[st]
		s.Size = r.u32()
		s.Off = r.u32()
		s.present = s.Off != 0
	}
	t.DataSize = r.u32()
	t.DataOff = r.u32()
	return r.err
}

func (t *TableOfContents) readMap(data []byte) error {
	b, err := NewBufferAt(data, int(t.sections[TypeMapList].Off), len(data))
	if err != nil {
		return err
	}
	r := &reader{b: b}
	n := r.count(12)
	fromHeader := make(map[SectionType]bool, len(idSections))
	for _, st := range idSections {
		fromHeader[st] = true
	}
	seen := make(map[SectionType]bool, n)
	var previous *Section
	for i := 0; i < n && r.err == nil; i++ {
		typ := SectionType(r.u16())
		r.u16()
		size := r.u32()
		off := r.u32()
		if r.err != nil {
			break
		}
		s, ok := t.sections[typ]
		if !ok {
			return malformed("unknown map entry type 0x%04x", uint16(typ))
		}
		if seen[typ] {
			return fmt.Errorf("%w: %s listed twice", ErrDuplicateMapEntry, typ)
		}
		seen[typ] = true
		if fromHeader[typ] && !s.present {
			return fmt.Errorf("%w: %s absent from header, map says size=%d off=0x%x",
				ErrInconsistentMap, typ, size, off)
		}
		if (s.Size != 0 && s.Size != size) || (s.Off != 0 && s.Off != off) {
			return fmt.Errorf("%w: %s header says size=%d off=0x%x, map says size=%d off=0x%x",
				ErrInconsistentMap, typ, s.Size, s.Off, size, off)
		}
		if previous != nil && previous.Off > off {
			return fmt.Errorf("%w: %s at 0x%x follows %s at 0x%x", ErrUnsortedMap, typ, off, previous.Type, previous.Off)
		}
		s.Size = size
		s.Off = off
		s.present = true
		previous = s
	}
	if r.err != nil {
		return r.err
	}
	for _, st := range idSections {
		if s := t.sections[st]; s.present && !seen[st] {
			return fmt.Errorf("%w: %s in header but not in map", ErrInconsistentMap, st)
		}
	}
	return nil
}

// computeSizesFromOffsets derives byte counts by walking the sections from
// the highest offset down, and places absent sections at the offset of their
// predecessor in canonical order.
func (t *TableOfContents) computeSizesFromOffsets() error {
	var prev uint32
	for _, s := range t.Sections() {
		if !s.Exists() {
			s.Off = prev
			s.ByteCount = 0
		}
		prev = s.Off
	}
	ordered := t.orderedExisting()
	end := t.FileSize
	for i := len(ordered) - 1; i >= 0; i-- {
		s := ordered[i]
		if s.Off > end {
			return fmt.Errorf("%w: %s at 0x%x beyond 0x%x", ErrUnsortedMap, s.Type, s.Off, end)
		}
		s.ByteCount = end - s.Off
		end = s.Off
	}
	return nil
}

func (t *TableOfContents) orderedExisting() []*Section {
	var out []*Section
	for _, s := range t.Sections() {
		if s.Exists() {
			out = append(out, s)
		}
	}
	rank := make(map[SectionType]int, len(canonicalOrder))
	for i, st := range canonicalOrder {
		rank[st] = i
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Off != out[j].Off {
			return out[i].Off < out[j].Off
		}
		return rank[out[i].Type] < rank[out[j].Type]
	})
	return out
}

// SetPresent marks a section as present so that it is listed by WriteMap.
func (t *TableOfContents) SetPresent(st SectionType, off, size uint32) {
	s := t.sections[st]
	s.Off = off
	s.Size = size
	s.present = true
}

// WriteHeader writes the header at the start of b. The checksum and signature
// are written as stored and are expected to be fixed up afterwards.
func (t *TableOfContents) WriteHeader(b *Buffer) {
	b.WriteBytes([]byte(Magic))
	b.WriteUint32(t.Checksum)
	b.WriteBytes(t.Signature[:])
	b.WriteUint32(t.FileSize)
	b.WriteUint32(HeaderSize)
	b.WriteUint32(EndianTag)
	b.WriteUint32(t.LinkSize)
	b.WriteUint32(t.LinkOff)
	b.WriteUint32(t.sections[TypeMapList].Off)
	for _, st := range idSections {
		s := t.sections[st]
		if s.Size == 0 {
			b.WriteUint32(0)
			b.WriteUint32(0)
			continue
		}
		b.WriteUint32(s.Size)
		b.WriteUint32(s.Off)
	}
	b.WriteUint32(t.DataSize)
	b.WriteUint32(t.DataOff)
}

// WriteMap writes the map list of all present sections ordered by offset.
func (t *TableOfContents) WriteMap(b *Buffer) {
	ordered := t.orderedExisting()
	b.WriteUint32(uint32(len(ordered)))
	for _, s := range ordered {
		b.WriteUint16(uint16(s.Type))
		b.WriteUint16(0)
		b.WriteUint32(s.Size)
		b.WriteUint32(s.Off)
	}
}

// ComputeChecksum is the Adler-32 of everything after the checksum field.
func ComputeChecksum(data []byte) uint32 {
	return adler32.Checksum(data[signatureOff:])
}

// ComputeSignature is the SHA-1 of everything after the signature field.
func ComputeSignature(data []byte) [20]byte {
	return sha1.Sum(data[fileSizeOff:])
}

// FixChecksums rewrites the signature and checksum fields of a complete file.
func FixChecksums(data []byte) {
	sig := ComputeSignature(data)
	copy(data[signatureOff:fileSizeOff], sig[:])
	binary.LittleEndian.PutUint32(data[checksumOff:], ComputeChecksum(data))
}
