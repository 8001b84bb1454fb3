package dex

// Annotation is an annotation_item.
type Annotation struct {
	Visibility uint8
	Value      EncodedAnnotation
}

func ReadAnnotation(b *Buffer) (Annotation, error) {
	vis, err := b.ReadUint8()
	if err != nil {
		return Annotation{}, err
	}
	v, err := ReadEncodedAnnotation(b)
	return Annotation{Visibility: vis, Value: v}, err
}

func (a Annotation) ByteCount() int { return 1 + a.Value.ByteCount() }

func (a Annotation) Encode(b *Buffer) {
	b.WriteUint8(a.Visibility)
	a.Value.Encode(b)
}

// AnnotationSet lists annotation_item offsets. The order is the stored order.
type AnnotationSet struct {
	Offsets []uint32
}

func ReadAnnotationSet(b *Buffer) (AnnotationSet, error) {
	offs, err := readOffsets(b)
	return AnnotationSet{Offsets: offs}, err
}

func (s AnnotationSet) ByteCount() int { return 4 + 4*len(s.Offsets) }

func (s AnnotationSet) Encode(b *Buffer) { writeOffsets(b, s.Offsets) }

// AnnotationSetRefList lists annotation set offsets, one per parameter. A
// zero offset means the parameter has no annotations.
type AnnotationSetRefList struct {
	Offsets []uint32
}

func ReadAnnotationSetRefList(b *Buffer) (AnnotationSetRefList, error) {
	offs, err := readOffsets(b)
	return AnnotationSetRefList{Offsets: offs}, err
}

func (l AnnotationSetRefList) ByteCount() int { return 4 + 4*len(l.Offsets) }

func (l AnnotationSetRefList) Encode(b *Buffer) { writeOffsets(b, l.Offsets) }

func readOffsets(b *Buffer) ([]uint32, error) {
	r := &reader{b: b}
	out := make([]uint32, r.count(4))
	for i := range out {
		out[i] = r.u32()
	}
	return out, r.err
}

func writeOffsets(b *Buffer, offs []uint32) {
	b.WriteUint32(uint32(len(offs)))
	for _, o := range offs {
		b.WriteUint32(o)
	}
}

// MemberAnnotation pairs a field or method index with the offset of an
// annotation set, or of a ref list for parameter annotations.
type MemberAnnotation struct {
	Index  uint32
	Offset uint32
}

// AnnotationsDirectory is an annotations_directory_item.
type AnnotationsDirectory struct {
	ClassAnnotationsOffset uint32
	Fields                 []MemberAnnotation
	Methods                []MemberAnnotation
	Parameters             []MemberAnnotation
}

func ReadAnnotationsDirectory(b *Buffer) (AnnotationsDirectory, error) {
	r := &reader{b: b}
	d := AnnotationsDirectory{ClassAnnotationsOffset: r.u32()}
	nf, nm, np := r.count(8), r.count(8), r.count(8)
	if r.err == nil && (nf+nm+np)*8 > b.Remaining() {
		return AnnotationsDirectory{}, malformed("annotations directory at 0x%x overruns section", b.Pos()-16)
	}
	d.Fields = readMembers(r, nf)
	d.Methods = readMembers(r, nm)
	d.Parameters = readMembers(r, np)
	return d, r.err
}

func readMembers(r *reader, n int) []MemberAnnotation {
	out := make([]MemberAnnotation, n)
	for i := range out {
		out[i] = MemberAnnotation{Index: r.u32(), Offset: r.u32()}
	}
	return out
}

func (d AnnotationsDirectory) ByteCount() int {
	return 16 + 8*(len(d.Fields)+len(d.Methods)+len(d.Parameters))
}

func (d AnnotationsDirectory) Encode(b *Buffer) {
	b.WriteUint32(d.ClassAnnotationsOffset)
	b.WriteUint32(uint32(len(d.Fields)))
	b.WriteUint32(uint32(len(d.Methods)))
	b.WriteUint32(uint32(len(d.Parameters)))
	for _, list := range [][]MemberAnnotation{d.Fields, d.Methods, d.Parameters} {
		for _, m := range list {
			b.WriteUint32(m.Index)
			b.WriteUint32(m.Offset)
		}
	}
}
