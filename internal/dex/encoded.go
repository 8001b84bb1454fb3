package dex

import (
	"fmt"
	"math"
)

// ValueType is the low five bits of an encoded_value tag.
type ValueType uint8

const (
	ValueByte         ValueType = 0x00
	ValueShort        ValueType = 0x02
	ValueChar         ValueType = 0x03
	ValueInt          ValueType = 0x04
	ValueLong         ValueType = 0x06
	ValueFloat        ValueType = 0x10
	ValueDouble       ValueType = 0x11
	ValueMethodType   ValueType = 0x15
	ValueMethodHandle ValueType = 0x16
	ValueString       ValueType = 0x17
	ValueTypeRef      ValueType = 0x18
	ValueField        ValueType = 0x19
	ValueMethod       ValueType = 0x1a
	ValueEnum         ValueType = 0x1b
	ValueArray        ValueType = 0x1c
	ValueAnnotation   ValueType = 0x1d
	ValueNull         ValueType = 0x1e
	ValueBoolean      ValueType = 0x1f
)

var valueTypeNames = map[ValueType]string{
	ValueByte: "byte", ValueShort: "short", ValueChar: "char", ValueInt: "int",
	ValueLong: "long", ValueFloat: "float", ValueDouble: "double",
	ValueMethodType: "method_type", ValueMethodHandle: "method_handle",
	ValueString: "string", ValueTypeRef: "type", ValueField: "field",
	ValueMethod: "method", ValueEnum: "enum", ValueArray: "array",
	ValueAnnotation: "annotation", ValueNull: "null", ValueBoolean: "boolean",
}

func (t ValueType) String() string {
	if n, ok := valueTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("value(0x%02x)", uint8(t))
}

// EncodedValue is a decoded encoded_value. Int holds the integral kinds
// (sign-extended, char zero-extended), Bits the raw IEEE bits of float and
// double, Index the reference kinds.
type EncodedValue struct {
	Type       ValueType
	Int        int64
	Bits       uint64
	Index      uint32
	Bool       bool
	Array      []EncodedValue
	Annotation *EncodedAnnotation
}

// EncodedAnnotation is the body of an annotation: a type and its elements.
type EncodedAnnotation struct {
	TypeIndex uint32
	Elements  []AnnotationElement
}

type AnnotationElement struct {
	NameIndex uint32
	Value     EncodedValue
}

func (v EncodedValue) Float32() float32 { return math.Float32frombits(uint32(v.Bits)) }
func (v EncodedValue) Float64() float64 { return math.Float64frombits(v.Bits) }

// IsIndex reports whether the value refers to an id table.
func (v EncodedValue) IsIndex() bool {
	switch v.Type {
	case ValueMethodType, ValueMethodHandle, ValueString, ValueTypeRef, ValueField, ValueMethod, ValueEnum:
		return true
	}
	return false
}

// ReadEncodedValue decodes one encoded_value.
func ReadEncodedValue(b *Buffer) (EncodedValue, error) {
	return readValue(b, 0)
}

const maxValueDepth = 64

func readValue(b *Buffer, depth int) (EncodedValue, error) {
	if depth > maxValueDepth {
		return EncodedValue{}, malformed("encoded value nested deeper than %d", maxValueDepth)
	}
	at := b.Pos()
	tag, err := b.ReadUint8()
	if err != nil {
		return EncodedValue{}, err
	}
	v := EncodedValue{Type: ValueType(tag & 0x1f)}
	arg := int(tag >> 5)
	size := arg + 1
	bad := func() (EncodedValue, error) {
		return EncodedValue{}, fmt.Errorf("%w: 0x%02x at 0x%x", ErrUnexpectedEncodedValueTag, tag, at)
	}
	switch v.Type {
	case ValueByte, ValueShort, ValueInt, ValueLong:
		if size > maxSize(v.Type) {
			return bad()
		}
		raw, err := readRaw(b, size)
		if err != nil {
			return EncodedValue{}, err
		}
		shift := uint(64 - 8*size)
		v.Int = int64(raw<<shift) >> shift
	case ValueChar:
		if size > 2 {
			return bad()
		}
		raw, err := readRaw(b, size)
		if err != nil {
			return EncodedValue{}, err
		}
		v.Int = int64(raw)
	case ValueFloat, ValueDouble:
		width := maxSize(v.Type)
		if size > width {
			return bad()
		}
		raw, err := readRaw(b, size)
		if err != nil {
			return EncodedValue{}, err
		}
		v.Bits = raw << uint(8*(width-size))
	case ValueMethodType, ValueMethodHandle, ValueString, ValueTypeRef, ValueField, ValueMethod, ValueEnum:
		if size > 4 {
			return bad()
		}
		raw, err := readRaw(b, size)
		if err != nil {
			return EncodedValue{}, err
		}
		v.Index = uint32(raw)
	case ValueArray:
		if arg != 0 {
			return bad()
		}
		arr, err := readValues(b, depth)
		if err != nil {
			return EncodedValue{}, err
		}
		v.Array = arr
	case ValueAnnotation:
		if arg != 0 {
			return bad()
		}
		a, err := readAnnotation(b, depth)
		if err != nil {
			return EncodedValue{}, err
		}
		v.Annotation = &a
	case ValueNull:
		if arg != 0 {
			return bad()
		}
	case ValueBoolean:
		if arg > 1 {
			return bad()
		}
		v.Bool = arg == 1
	default:
		return bad()
	}
	return v, nil
}

func maxSize(t ValueType) int {
	switch t {
	case ValueByte:
		return 1
	case ValueShort, ValueChar:
		return 2
	case ValueLong, ValueDouble:
		return 8
	}
	return 4
}

func readRaw(b *Buffer, size int) (uint64, error) {
	p, err := b.ReadBytes(size)
	if err != nil {
		return 0, err
	}
	var raw uint64
	for i := size - 1; i >= 0; i-- {
		raw = raw<<8 | uint64(p[i])
	}
	return raw, nil
}

func readValues(b *Buffer, depth int) ([]EncodedValue, error) {
	n, err := b.ReadULEB128()
	if err != nil {
		return nil, err
	}
	if int64(n) > int64(b.Remaining()) {
		return nil, malformed("array of %d values at 0x%x", n, b.Pos())
	}
	out := make([]EncodedValue, n)
	for i := range out {
		if out[i], err = readValue(b, depth+1); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ReadEncodedAnnotation decodes an encoded_annotation.
func ReadEncodedAnnotation(b *Buffer) (EncodedAnnotation, error) {
	return readAnnotation(b, 0)
}

func readAnnotation(b *Buffer, depth int) (EncodedAnnotation, error) {
	r := &reader{b: b}
	a := EncodedAnnotation{TypeIndex: r.uleb()}
	n := r.ulebCount()
	if r.err != nil {
		return EncodedAnnotation{}, r.err
	}
	a.Elements = make([]AnnotationElement, n)
	for i := range a.Elements {
		name, err := b.ReadULEB128()
		if err != nil {
			return EncodedAnnotation{}, err
		}
		val, err := readValue(b, depth+1)
		if err != nil {
			return EncodedAnnotation{}, err
		}
		a.Elements[i] = AnnotationElement{NameIndex: name, Value: val}
	}
	return a, nil
}

// SkipEncodedValue advances b past one encoded_value without building it.
func SkipEncodedValue(b *Buffer) error {
	_, err := readValue(b, 0)
	return err
}

// signedSize is the minimal number of bytes that sign-extend back to v.
func signedSize(v int64) int {
	n := 1
	for n < 8 {
		shift := uint(64 - 8*n)
		if v<<shift>>shift == v {
			break
		}
		n++
	}
	return n
}

func unsignedSize(v uint64) int {
	n := 1
	for v >>= 8; v != 0; v >>= 8 {
		n++
	}
	return n
}

// rightZeroSize is the number of high bytes needed when trailing zero bytes
// are dropped.
func rightZeroSize(bits uint64, width int) int {
	n := width
	for n > 1 && bits&0xff == 0 {
		bits >>= 8
		n--
	}
	return n
}

func (v EncodedValue) payload() (raw uint64, size int) {
	switch v.Type {
	case ValueByte:
		return uint64(v.Int), 1
	case ValueShort, ValueInt, ValueLong:
		return uint64(v.Int), signedSize(v.Int)
	case ValueChar:
		return uint64(v.Int) & 0xffff, unsignedSize(uint64(v.Int) & 0xffff)
	case ValueFloat, ValueDouble:
		width := maxSize(v.Type)
		bits := v.Bits
		if width == 4 {
			bits &= 0xffffffff
		}
		size = rightZeroSize(bits, width)
		return bits >> uint(8*(width-size)), size
	default:
		return uint64(v.Index), unsignedSize(uint64(v.Index))
	}
}

// ByteCount is the size of the minimal encoding of v.
func (v EncodedValue) ByteCount() int {
	switch v.Type {
	case ValueArray:
		n := 1 + ULEB128Size(uint32(len(v.Array)))
		for _, e := range v.Array {
			n += e.ByteCount()
		}
		return n
	case ValueAnnotation:
		return 1 + v.Annotation.ByteCount()
	case ValueNull, ValueBoolean:
		return 1
	}
	_, size := v.payload()
	return 1 + size
}

// Encode writes the minimal encoding of v.
func (v EncodedValue) Encode(b *Buffer) {
	switch v.Type {
	case ValueArray:
		b.WriteUint8(uint8(ValueArray))
		b.WriteULEB128(uint32(len(v.Array)))
		for _, e := range v.Array {
			e.Encode(b)
		}
		return
	case ValueAnnotation:
		b.WriteUint8(uint8(ValueAnnotation))
		v.Annotation.Encode(b)
		return
	case ValueNull:
		b.WriteUint8(uint8(ValueNull))
		return
	case ValueBoolean:
		arg := uint8(0)
		if v.Bool {
			arg = 1
		}
		b.WriteUint8(arg<<5 | uint8(ValueBoolean))
		return
	}
	raw, size := v.payload()
	b.WriteUint8(uint8(size-1)<<5 | uint8(v.Type))
	for i := 0; i < size; i++ {
		b.WriteUint8(uint8(raw >> (8 * i)))
	}
}

func (a *EncodedAnnotation) ByteCount() int {
	n := ULEB128Size(a.TypeIndex) + ULEB128Size(uint32(len(a.Elements)))
	for _, e := range a.Elements {
		n += ULEB128Size(e.NameIndex) + e.Value.ByteCount()
	}
	return n
}

func (a *EncodedAnnotation) Encode(b *Buffer) {
	b.WriteULEB128(a.TypeIndex)
	b.WriteULEB128(uint32(len(a.Elements)))
	for _, e := range a.Elements {
		b.WriteULEB128(e.NameIndex)
		e.Value.Encode(b)
	}
}

// EncodedArray is an entry of the encoded_arrays section, used for static
// field initial values.
type EncodedArray struct {
	Values []EncodedValue
}

func ReadEncodedArray(b *Buffer) (EncodedArray, error) {
	vs, err := readValues(b, 0)
	return EncodedArray{Values: vs}, err
}

func (a EncodedArray) ByteCount() int {
	n := ULEB128Size(uint32(len(a.Values)))
	for _, v := range a.Values {
		n += v.ByteCount()
	}
	return n
}

func (a EncodedArray) Encode(b *Buffer) {
	b.WriteULEB128(uint32(len(a.Values)))
	for _, v := range a.Values {
		v.Encode(b)
	}
}
