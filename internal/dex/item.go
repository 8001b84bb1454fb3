package dex

// Item is a record stored in one of the sections of a dex file. ByteCount
// is computed from the record alone and always equals the number of bytes
// Encode writes.
type Item interface {
	ByteCount() int
	Encode(b *Buffer)
}

// StringData is an entry of the string_data section.
type StringData struct {
	Value string
}

func ReadStringData(b *Buffer) (StringData, error) {
	n, err := b.ReadULEB128()
	if err != nil {
		return StringData{}, err
	}
	start := b.Pos()
	s, units, err := b.ReadMUTF8()
	if err != nil {
		return StringData{}, err
	}
	if uint32(units) != n {
		return StringData{}, malformed("string at 0x%x declares %d UTF-16 units, decoded %d", start, n, units)
	}
	return StringData{Value: s}, nil
}

func (s StringData) ByteCount() int {
	return ULEB128Size(uint32(UTF16Len(s.Value))) + MUTF8EncodedLen(s.Value) + 1
}

func (s StringData) Encode(b *Buffer) {
	b.WriteULEB128(uint32(UTF16Len(s.Value)))
	b.WriteMUTF8(s.Value)
}

// TypeList is a list of type indices, used for interfaces and parameters.
type TypeList struct {
	Types []uint16
}

func ReadTypeList(b *Buffer) (TypeList, error) {
	r := &reader{b: b}
	n := r.count(2)
	types := make([]uint16, n)
	for i := range types {
		types[i] = r.u16()
	}
	return TypeList{Types: types}, r.err
}

func (t TypeList) ByteCount() int { return 4 + 2*len(t.Types) }

func (t TypeList) Encode(b *Buffer) {
	b.WriteUint32(uint32(len(t.Types)))
	for _, v := range t.Types {
		b.WriteUint16(v)
	}
}

// ProtoID is a method prototype.
type ProtoID struct {
	ShortyIndex      uint32
	ReturnTypeIndex  uint32
	ParametersOffset uint32
}

func ReadProtoID(b *Buffer) (ProtoID, error) {
	r := &reader{b: b}
	p := ProtoID{ShortyIndex: r.u32(), ReturnTypeIndex: r.u32(), ParametersOffset: r.u32()}
	return p, r.err
}

func (ProtoID) ByteCount() int { return 12 }

func (p ProtoID) Encode(b *Buffer) {
	b.WriteUint32(p.ShortyIndex)
	b.WriteUint32(p.ReturnTypeIndex)
	b.WriteUint32(p.ParametersOffset)
}

// FieldID names a field by declaring class, type and name.
type FieldID struct {
	DeclaringClassIndex uint16
	TypeIndex           uint16
	NameIndex           uint32
}

func ReadFieldID(b *Buffer) (FieldID, error) {
	r := &reader{b: b}
	f := FieldID{DeclaringClassIndex: r.u16(), TypeIndex: r.u16(), NameIndex: r.u32()}
	return f, r.err
}

func (FieldID) ByteCount() int { return 8 }

func (f FieldID) Encode(b *Buffer) {
	b.WriteUint16(f.DeclaringClassIndex)
	b.WriteUint16(f.TypeIndex)
	b.WriteUint32(f.NameIndex)
}

// MethodID names a method by declaring class, prototype and name.
type MethodID struct {
	DeclaringClassIndex uint16
	ProtoIndex          uint16
	NameIndex           uint32
}

func ReadMethodID(b *Buffer) (MethodID, error) {
	r := &reader{b: b}
	m := MethodID{DeclaringClassIndex: r.u16(), ProtoIndex: r.u16(), NameIndex: r.u32()}
	return m, r.err
}

func (MethodID) ByteCount() int { return 8 }

func (m MethodID) Encode(b *Buffer) {
	b.WriteUint16(m.DeclaringClassIndex)
	b.WriteUint16(m.ProtoIndex)
	b.WriteUint32(m.NameIndex)
}

// ClassDef is an entry of the class_defs section. Offsets are 0 and indices
// are NoIndex when absent.
type ClassDef struct {
	TypeIndex          uint32
	AccessFlags        uint32
	SupertypeIndex     uint32
	InterfacesOffset   uint32
	SourceFileIndex    uint32
	AnnotationsOffset  uint32
	ClassDataOffset    uint32
	StaticValuesOffset uint32
}

func ReadClassDef(b *Buffer) (ClassDef, error) {
	r := &reader{b: b}
	c := ClassDef{
		TypeIndex:          r.u32(),
		AccessFlags:        r.u32(),
		SupertypeIndex:     r.u32(),
		InterfacesOffset:   r.u32(),
		SourceFileIndex:    r.u32(),
		AnnotationsOffset:  r.u32(),
		ClassDataOffset:    r.u32(),
		StaticValuesOffset: r.u32(),
	}
	return c, r.err
}

func (ClassDef) ByteCount() int { return 32 }

func (c ClassDef) Encode(b *Buffer) {
	for _, v := range []uint32{
		c.TypeIndex, c.AccessFlags, c.SupertypeIndex, c.InterfacesOffset,
		c.SourceFileIndex, c.AnnotationsOffset, c.ClassDataOffset, c.StaticValuesOffset,
	} {
		b.WriteUint32(v)
	}
}
