// Package dex reads the Dalvik executable format: the table of contents,
// every item kind, and index-based lookups that resolve references to the
// names they stand for.
package dex

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"dexdiff/internal/dexfile"
)

const stringCacheSize = 8192

// Dex is an immutable view of one dex file. It is safe for concurrent use.
type Dex struct {
	// Name labels the file in reports, usually its base name.
	Name string

	data    []byte
	toc     *TableOfContents
	strings *lru.Cache[uint32, string]
	closer  io.Closer
}

// New parses the table of contents of data. data must not be modified while
// the Dex is in use.
func New(name string, data []byte) (*Dex, error) {
	toc, err := ReadTableOfContents(data)
	if err != nil {
		if name != "" {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return nil, err
	}
	cache, err := lru.New[uint32, string](stringCacheSize)
	if err != nil {
		return nil, err
	}
	return &Dex{Name: name, data: data, toc: toc, strings: cache}, nil
}

// Open maps the file at path and parses it.
func Open(path string) (*Dex, error) {
	im, err := dexfile.Open(path)
	if err != nil {
		return nil, err
	}
	d, err := New(filepath.Base(path), im.All)
	if err != nil {
		im.Close()
		return nil, err
	}
	d.closer = im
	return d, nil
}

// Close releases the mapping of a Dex created by Open.
func (d *Dex) Close() error {
	if d.closer == nil {
		return nil
	}
	err := d.closer.Close()
	d.closer = nil
	return err
}

// Bytes returns the raw file.
func (d *Dex) Bytes() []byte { return d.data }

// TableOfContents returns the parsed section layout.
func (d *Dex) TableOfContents() *TableOfContents { return d.toc }

// VerifyChecksum reports whether the stored checksum and signature match
// the file contents.
func (d *Dex) VerifyChecksum() (checksum, signature bool) {
	return ComputeChecksum(d.data) == d.toc.Checksum, ComputeSignature(d.data) == d.toc.Signature
}

func (d *Dex) StringCount() int   { return int(d.toc.Section(TypeStringIDs).Size) }
func (d *Dex) TypeCount() int     { return int(d.toc.Section(TypeTypeIDs).Size) }
func (d *Dex) ProtoCount() int    { return int(d.toc.Section(TypeProtoIDs).Size) }
func (d *Dex) FieldCount() int    { return int(d.toc.Section(TypeFieldIDs).Size) }
func (d *Dex) MethodCount() int   { return int(d.toc.Section(TypeMethodIDs).Size) }
func (d *Dex) ClassDefCount() int { return int(d.toc.Section(TypeClassDefs).Size) }

// idBuffer positions a buffer at element i of a fixed-size id section.
func (d *Dex) idBuffer(st SectionType, i uint32, elemSize uint32) (*Buffer, error) {
	s := d.toc.Section(st)
	if i >= s.Size {
		return nil, outOfRange(st.String(), i, int(s.Size))
	}
	off := uint64(s.Off) + uint64(i)*uint64(elemSize)
	if off+uint64(elemSize) > uint64(s.End()) {
		return nil, malformed("%s[%d] at 0x%x overruns section", st, i, off)
	}
	return NewBufferAt(d.data, int(off), int(s.End()))
}

// sectionBuffer positions a buffer at off, which must lie inside section st
// and respect its alignment. Reads may not cross the end of the section.
func (d *Dex) sectionBuffer(st SectionType, off uint32) (*Buffer, error) {
	s := d.toc.Section(st)
	if !s.Exists() || off < s.Off || off >= s.End() {
		return nil, malformed("offset 0x%x is outside %s [0x%x, 0x%x)", off, st, s.Off, s.End())
	}
	if s.FourByteAligned && off&3 != 0 {
		return nil, malformed("offset 0x%x in %s is not four-byte aligned", off, st)
	}
	return NewBufferAt(d.data, int(off), int(s.End()))
}

// String returns the string with index i.
func (d *Dex) String(i uint32) (string, error) {
	if s, ok := d.strings.Get(i); ok {
		return s, nil
	}
	b, err := d.idBuffer(TypeStringIDs, i, 4)
	if err != nil {
		return "", err
	}
	off, err := b.ReadUint32()
	if err != nil {
		return "", err
	}
	sb, err := d.sectionBuffer(TypeStringData, off)
	if err != nil {
		return "", fmt.Errorf("string %d: %w", i, err)
	}
	sd, err := ReadStringData(sb)
	if err != nil {
		return "", fmt.Errorf("string %d: %w", i, err)
	}
	d.strings.Add(i, sd.Value)
	return sd.Value, nil
}

// TypeName returns the descriptor of type index i.
func (d *Dex) TypeName(i uint32) (string, error) {
	b, err := d.idBuffer(TypeTypeIDs, i, 4)
	if err != nil {
		return "", err
	}
	si, err := b.ReadUint32()
	if err != nil {
		return "", err
	}
	return d.String(si)
}

func (d *Dex) ProtoID(i uint32) (ProtoID, error) {
	b, err := d.idBuffer(TypeProtoIDs, i, 12)
	if err != nil {
		return ProtoID{}, err
	}
	return ReadProtoID(b)
}

func (d *Dex) FieldID(i uint32) (FieldID, error) {
	b, err := d.idBuffer(TypeFieldIDs, i, 8)
	if err != nil {
		return FieldID{}, err
	}
	return ReadFieldID(b)
}

func (d *Dex) MethodID(i uint32) (MethodID, error) {
	b, err := d.idBuffer(TypeMethodIDs, i, 8)
	if err != nil {
		return MethodID{}, err
	}
	return ReadMethodID(b)
}

func (d *Dex) ClassDef(i uint32) (ClassDef, error) {
	b, err := d.idBuffer(TypeClassDefs, i, 32)
	if err != nil {
		return ClassDef{}, err
	}
	return ReadClassDef(b)
}

// ClassDefs returns every class definition in file order.
func (d *Dex) ClassDefs() ([]ClassDef, error) {
	n := uint32(d.ClassDefCount())
	out := make([]ClassDef, 0, n)
	for i := uint32(0); i < n; i++ {
		cd, err := d.ClassDef(i)
		if err != nil {
			return nil, err
		}
		out = append(out, cd)
	}
	return out, nil
}

// ClassByDescriptor finds the class definition of desc.
func (d *Dex) ClassByDescriptor(desc string) (ClassDef, bool, error) {
	defs, err := d.ClassDefs()
	if err != nil {
		return ClassDef{}, false, err
	}
	for _, cd := range defs {
		name, err := d.TypeName(cd.TypeIndex)
		if err != nil {
			return ClassDef{}, false, err
		}
		if name == desc {
			return cd, true, nil
		}
	}
	return ClassDef{}, false, nil
}

// ClassData returns the members of cd. A class without class data yields an
// empty ClassData.
func (d *Dex) ClassData(cd ClassDef) (ClassData, error) {
	if cd.ClassDataOffset == 0 {
		return ClassData{}, nil
	}
	return d.ReadClassData(cd.ClassDataOffset)
}

// Code returns the body of m. ok is false for abstract and native methods.
func (d *Dex) Code(m EncodedMethod) (code Code, ok bool, err error) {
	if m.CodeOffset == 0 {
		return Code{}, false, nil
	}
	code, err = d.ReadCode(m.CodeOffset)
	return code, err == nil, err
}

// InterfacesOf returns the type indices of the interfaces cd implements.
func (d *Dex) InterfacesOf(cd ClassDef) ([]uint16, error) {
	if cd.InterfacesOffset == 0 {
		return nil, nil
	}
	tl, err := d.ReadTypeList(cd.InterfacesOffset)
	return tl.Types, err
}

// ParameterTypesOf returns the parameter type indices of method m.
func (d *Dex) ParameterTypesOf(m MethodID) ([]uint16, error) {
	p, err := d.ProtoID(uint32(m.ProtoIndex))
	if err != nil {
		return nil, err
	}
	return d.protoParameters(p)
}

func (d *Dex) protoParameters(p ProtoID) ([]uint16, error) {
	if p.ParametersOffset == 0 {
		return nil, nil
	}
	tl, err := d.ReadTypeList(p.ParametersOffset)
	return tl.Types, err
}

func (d *Dex) ReadTypeList(off uint32) (TypeList, error) {
	b, err := d.sectionBuffer(TypeTypeLists, off)
	if err != nil {
		return TypeList{}, err
	}
	return ReadTypeList(b)
}

func (d *Dex) ReadClassData(off uint32) (ClassData, error) {
	b, err := d.sectionBuffer(TypeClassData, off)
	if err != nil {
		return ClassData{}, err
	}
	return ReadClassData(b)
}

func (d *Dex) ReadCode(off uint32) (Code, error) {
	b, err := d.sectionBuffer(TypeCodes, off)
	if err != nil {
		return Code{}, err
	}
	return ReadCode(b)
}

func (d *Dex) ReadDebugInfo(off uint32) (DebugInfoItem, error) {
	b, err := d.sectionBuffer(TypeDebugInfos, off)
	if err != nil {
		return DebugInfoItem{}, err
	}
	return ReadDebugInfoItem(b)
}

func (d *Dex) ReadAnnotation(off uint32) (Annotation, error) {
	b, err := d.sectionBuffer(TypeAnnotations, off)
	if err != nil {
		return Annotation{}, err
	}
	return ReadAnnotation(b)
}

func (d *Dex) ReadAnnotationSet(off uint32) (AnnotationSet, error) {
	b, err := d.sectionBuffer(TypeAnnotationSets, off)
	if err != nil {
		return AnnotationSet{}, err
	}
	return ReadAnnotationSet(b)
}

func (d *Dex) ReadAnnotationSetRefList(off uint32) (AnnotationSetRefList, error) {
	b, err := d.sectionBuffer(TypeAnnotationSetRefLists, off)
	if err != nil {
		return AnnotationSetRefList{}, err
	}
	return ReadAnnotationSetRefList(b)
}

func (d *Dex) ReadAnnotationsDirectory(off uint32) (AnnotationsDirectory, error) {
	b, err := d.sectionBuffer(TypeAnnotationsDirs, off)
	if err != nil {
		return AnnotationsDirectory{}, err
	}
	return ReadAnnotationsDirectory(b)
}

func (d *Dex) ReadEncodedArray(off uint32) (EncodedArray, error) {
	b, err := d.sectionBuffer(TypeEncodedArrays, off)
	if err != nil {
		return EncodedArray{}, err
	}
	return ReadEncodedArray(b)
}

// FieldRef identifies a field by name rather than by index.
type FieldRef struct {
	Class string
	Name  string
	Type  string
}

func (f FieldRef) String() string { return f.Class + "->" + f.Name + ":" + f.Type }

// ProtoRef identifies a method prototype by name.
type ProtoRef struct {
	Shorty string
	Return string
	Params []string
}

func (p ProtoRef) String() string { return "(" + strings.Join(p.Params, "") + ")" + p.Return }

// Equal compares two prototypes by shorty, return type and parameters.
func (p ProtoRef) Equal(o ProtoRef) bool {
	if p.Shorty != o.Shorty || p.Return != o.Return || len(p.Params) != len(o.Params) {
		return false
	}
	for i := range p.Params {
		if p.Params[i] != o.Params[i] {
			return false
		}
	}
	return true
}

// MethodRef identifies a method by name rather than by index.
type MethodRef struct {
	Class string
	Name  string
	Proto ProtoRef
}

func (m MethodRef) String() string { return m.Class + "->" + m.Name + m.Proto.String() }

func (m MethodRef) Equal(o MethodRef) bool {
	return m.Class == o.Class && m.Name == o.Name && m.Proto.Equal(o.Proto)
}

// FieldIdentity resolves field index i to names.
func (d *Dex) FieldIdentity(i uint32) (FieldRef, error) {
	f, err := d.FieldID(i)
	if err != nil {
		return FieldRef{}, err
	}
	var ref FieldRef
	if ref.Class, err = d.TypeName(uint32(f.DeclaringClassIndex)); err != nil {
		return FieldRef{}, err
	}
	if ref.Type, err = d.TypeName(uint32(f.TypeIndex)); err != nil {
		return FieldRef{}, err
	}
	if ref.Name, err = d.String(f.NameIndex); err != nil {
		return FieldRef{}, err
	}
	return ref, nil
}

// ProtoIdentity resolves proto index i to names.
func (d *Dex) ProtoIdentity(i uint32) (ProtoRef, error) {
	p, err := d.ProtoID(i)
	if err != nil {
		return ProtoRef{}, err
	}
	var ref ProtoRef
	if ref.Shorty, err = d.String(p.ShortyIndex); err != nil {
		return ProtoRef{}, err
	}
	if ref.Return, err = d.TypeName(p.ReturnTypeIndex); err != nil {
		return ProtoRef{}, err
	}
	params, err := d.protoParameters(p)
	if err != nil {
		return ProtoRef{}, err
	}
	for _, t := range params {
		name, err := d.TypeName(uint32(t))
		if err != nil {
			return ProtoRef{}, err
		}
		ref.Params = append(ref.Params, name)
	}
	return ref, nil
}

// MethodIdentity resolves method index i to names.
func (d *Dex) MethodIdentity(i uint32) (MethodRef, error) {
	m, err := d.MethodID(i)
	if err != nil {
		return MethodRef{}, err
	}
	var ref MethodRef
	if ref.Class, err = d.TypeName(uint32(m.DeclaringClassIndex)); err != nil {
		return MethodRef{}, err
	}
	if ref.Name, err = d.String(m.NameIndex); err != nil {
		return MethodRef{}, err
	}
	if ref.Proto, err = d.ProtoIdentity(uint32(m.ProtoIndex)); err != nil {
		return MethodRef{}, err
	}
	return ref, nil
}

// ClassDescriptor returns the descriptor of the class cd defines.
func (d *Dex) ClassDescriptor(cd ClassDef) (string, error) {
	return d.TypeName(cd.TypeIndex)
}

var primitiveNames = map[byte]string{
	'V': "void", 'Z': "boolean", 'B': "byte", 'S': "short", 'C': "char",
	'I': "int", 'J': "long", 'F': "float", 'D': "double",
}

// PrettyDescriptor turns a type descriptor into its source form, for
// example "Lcom/app/Foo;" into "com.app.Foo" and "[[B" into "byte[][]".
func PrettyDescriptor(desc string) string {
	dims := 0
	for dims < len(desc) && desc[dims] == '[' {
		dims++
	}
	base := desc[dims:]
	var name string
	switch {
	case len(base) == 1 && primitiveNames[base[0]] != "":
		name = primitiveNames[base[0]]
	case len(base) >= 2 && base[0] == 'L' && base[len(base)-1] == ';':
		name = strings.ReplaceAll(base[1:len(base)-1], "/", ".")
	default:
		name = base
	}
	return name + strings.Repeat("[]", dims)
}
