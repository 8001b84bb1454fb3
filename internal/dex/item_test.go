package dex

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundTrip encodes item, checks ByteCount against the written size and
// decodes it back.
func roundTrip[T Item](t *testing.T, item T, read func(*Buffer) (T, error)) T {
	t.Helper()
	b := NewBuffer(nil)
	item.Encode(b)
	require.Equal(t, item.ByteCount(), len(b.Bytes()), "ByteCount disagrees with Encode")
	r := NewBuffer(b.Bytes())
	got, err := read(r)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Remaining(), "decoder left bytes behind")
	return got
}

func TestItemRoundTrip(t *testing.T) {
	t.Run("string data", func(t *testing.T) {
		in := StringData{Value: "h\x00é\U0001F600"}
		assert.Equal(t, in, roundTrip(t, in, ReadStringData))
	})
	t.Run("type list", func(t *testing.T) {
		in := TypeList{Types: []uint16{3, 1, 0xffff}}
		assert.Equal(t, in, roundTrip(t, in, ReadTypeList))
	})
	t.Run("ids", func(t *testing.T) {
		p := ProtoID{ShortyIndex: 1, ReturnTypeIndex: 2, ParametersOffset: 0x100}
		assert.Equal(t, p, roundTrip(t, p, ReadProtoID))
		f := FieldID{DeclaringClassIndex: 4, TypeIndex: 5, NameIndex: 6}
		assert.Equal(t, f, roundTrip(t, f, ReadFieldID))
		m := MethodID{DeclaringClassIndex: 7, ProtoIndex: 8, NameIndex: 9}
		assert.Equal(t, m, roundTrip(t, m, ReadMethodID))
		c := ClassDef{1, AccPublic, NoIndex, 0, NoIndex, 0x40, 0x80, 0}
		assert.Equal(t, c, roundTrip(t, c, ReadClassDef))
	})
	t.Run("class data", func(t *testing.T) {
		in := ClassData{
			StaticFields:   []EncodedField{{FieldIndex: 2, AccessFlags: AccStatic}, {FieldIndex: 300, AccessFlags: AccStatic | AccFinal}},
			InstanceFields: []EncodedField{{FieldIndex: 1, AccessFlags: AccPrivate}},
			DirectMethods:  []EncodedMethod{{MethodIndex: 5, AccessFlags: AccConstructor | AccPublic, CodeOffset: 0x1234}},
			VirtualMethods: []EncodedMethod{{MethodIndex: 9, AccessFlags: AccAbstract}, {MethodIndex: 70000, AccessFlags: AccPublic, CodeOffset: 0x20}},
		}
		assert.Equal(t, in, roundTrip(t, in, ReadClassData))
	})
	t.Run("code without tries", func(t *testing.T) {
		in := Code{RegistersSize: 2, InsSize: 1, OutsSize: 0, DebugInfoOffset: 0x44, Instructions: []uint16{0x0012, 0x000e, 0x0000}}
		assert.Equal(t, in, roundTrip(t, in, ReadCode))
	})
	t.Run("code with tries", func(t *testing.T) {
		in := Code{
			RegistersSize: 4,
			InsSize:       1,
			OutsSize:      2,
			Instructions:  []uint16{0x1a00, 0x0001, 0x000e},
			Tries: []Try{
				{StartAddress: 0, InstructionCount: 2, HandlerIndex: 1},
				{StartAddress: 2, InstructionCount: 1, HandlerIndex: 0},
			},
			CatchHandlers: []CatchHandler{
				{TypeIndices: []uint32{3}, Addresses: []uint32{2}, CatchAllAddress: -1},
				{TypeIndices: []uint32{4, 200}, Addresses: []uint32{1, 2}, CatchAllAddress: 2},
				{TypeIndices: []uint32{}, Addresses: []uint32{}, CatchAllAddress: 1},
			},
		}
		got := roundTrip(t, in, ReadCode)
		assert.Equal(t, in.Tries, got.Tries)
		require.Len(t, got.CatchHandlers, 3)
		for i, h := range got.CatchHandlers {
			assert.Equal(t, in.CatchHandlers[i].TypeIndices, h.TypeIndices)
			assert.Equal(t, in.CatchHandlers[i].Addresses, h.Addresses)
			assert.Equal(t, in.CatchHandlers[i].CatchAllAddress, h.CatchAllAddress)
		}
		assert.Equal(t, 1, got.CatchHandlers[0].Offset, "offsets count from the handler list size")
	})
	t.Run("debug info", func(t *testing.T) {
		var ops []byte
		ops = AppendDebugOp(ops, DebugOp{Opcode: DbgSetFile, Name: 3})
		ops = AppendDebugOp(ops, DebugOp{Opcode: DbgStartLocalExtended, Register: 1, Name: 4, Type: -1, Signature: 9})
		ops = AppendDebugOp(ops, DebugOp{Opcode: DbgAdvanceLine, LineDiff: -7})
		ops = AppendDebugOp(ops, DebugOp{Opcode: DbgAdvancePC, AddrDiff: 300})
		ops = AppendDebugOp(ops, DebugOp{Opcode: 0x20})
		ops = AppendDebugOp(ops, DebugOp{Opcode: DbgEndLocal, Register: 1})
		ops = append(ops, DbgEndSequence)
		in := DebugInfoItem{LineStart: 12, ParameterNames: []int32{-1, 5}, OpStream: ops}
		got := roundTrip(t, in, ReadDebugInfoItem)
		assert.Equal(t, in, got)

		decoded, err := got.Ops()
		require.NoError(t, err)
		require.Len(t, decoded, 7)
		assert.Equal(t, int32(-1), decoded[1].Type)
		assert.Equal(t, int32(9), decoded[1].Signature)
		assert.Equal(t, int32(-7), decoded[2].LineDiff)
		assert.Equal(t, uint32(300), decoded[3].AddrDiff)
	})
	t.Run("annotations", func(t *testing.T) {
		a := Annotation{Visibility: VisibilityRuntime, Value: EncodedAnnotation{
			TypeIndex: 3,
			Elements:  []AnnotationElement{{NameIndex: 1, Value: EncodedValue{Type: ValueBoolean, Bool: true}}},
		}}
		assert.Equal(t, a, roundTrip(t, a, ReadAnnotation))
		s := AnnotationSet{Offsets: []uint32{0x10, 0x20}}
		assert.Equal(t, s, roundTrip(t, s, ReadAnnotationSet))
		l := AnnotationSetRefList{Offsets: []uint32{0, 0x30}}
		assert.Equal(t, l, roundTrip(t, l, ReadAnnotationSetRefList))
		d := AnnotationsDirectory{
			ClassAnnotationsOffset: 0x40,
			Fields:                 []MemberAnnotation{{Index: 1, Offset: 0x50}},
			Methods:                []MemberAnnotation{},
			Parameters:             []MemberAnnotation{{Index: 2, Offset: 0x60}, {Index: 3, Offset: 0x70}},
		}
		assert.Equal(t, d, roundTrip(t, d, ReadAnnotationsDirectory))
	})
}

func TestEncodedValueRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		v    EncodedValue
		size int
	}{
		{"byte", EncodedValue{Type: ValueByte, Int: -5}, 2},
		{"short", EncodedValue{Type: ValueShort, Int: -129}, 3},
		{"short small", EncodedValue{Type: ValueShort, Int: 100}, 2},
		{"char", EncodedValue{Type: ValueChar, Int: 0xffff}, 3},
		{"int", EncodedValue{Type: ValueInt, Int: -1}, 2},
		{"int wide", EncodedValue{Type: ValueInt, Int: math.MinInt32}, 5},
		{"long", EncodedValue{Type: ValueLong, Int: 1 << 40}, 7},
		{"float", EncodedValue{Type: ValueFloat, Bits: uint64(math.Float32bits(1.0))}, 3},
		{"double", EncodedValue{Type: ValueDouble, Bits: math.Float64bits(0.1)}, 9},
		{"double short", EncodedValue{Type: ValueDouble, Bits: math.Float64bits(2.0)}, 2},
		{"string", EncodedValue{Type: ValueString, Index: 300}, 3},
		{"type", EncodedValue{Type: ValueTypeRef, Index: 0}, 2},
		{"field", EncodedValue{Type: ValueField, Index: 0x10000}, 4},
		{"method", EncodedValue{Type: ValueMethod, Index: 1}, 2},
		{"enum", EncodedValue{Type: ValueEnum, Index: 2}, 2},
		{"method type", EncodedValue{Type: ValueMethodType, Index: 2}, 2},
		{"method handle", EncodedValue{Type: ValueMethodHandle, Index: 2}, 2},
		{"null", EncodedValue{Type: ValueNull}, 1},
		{"true", EncodedValue{Type: ValueBoolean, Bool: true}, 1},
		{"array", EncodedValue{Type: ValueArray, Array: []EncodedValue{{Type: ValueNull}, {Type: ValueInt, Int: 1}}}, 1 + 1 + 1 + 2},
		{"annotation", EncodedValue{Type: ValueAnnotation, Annotation: &EncodedAnnotation{
			TypeIndex: 1,
			Elements:  []AnnotationElement{{NameIndex: 2, Value: EncodedValue{Type: ValueNull}}},
		}}, 1 + 1 + 1 + 1 + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.size, tt.v.ByteCount())
			got := roundTrip(t, tt.v, ReadEncodedValue)
			assert.Equal(t, tt.v, got)
		})
	}

	arr := EncodedArray{Values: []EncodedValue{{Type: ValueInt, Int: 7}, {Type: ValueString, Index: 4}}}
	assert.Equal(t, arr, roundTrip(t, arr, ReadEncodedArray))
}

func TestEncodedValueBadTag(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"unknown type", []byte{0x05, 0x00}},
		{"byte too wide", []byte{0x20, 0x01, 0x02}},
		{"int too wide", []byte{0x84, 1, 2, 3, 4, 5}},
		{"boolean arg", []byte{0x5f}},
		{"null arg", []byte{0x3e}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadEncodedValue(NewBuffer(tt.data))
			assert.True(t, errors.Is(err, ErrUnexpectedEncodedValueTag), "got %v", err)
		})
	}
}

func TestEncodedValueSignExtension(t *testing.T) {
	v, err := ReadEncodedValue(NewBuffer([]byte{0x24, 0x7f, 0xff}))
	require.NoError(t, err)
	assert.Equal(t, int64(-129), v.Int)

	c, err := ReadEncodedValue(NewBuffer([]byte{0x03, 0xff}))
	require.NoError(t, err)
	assert.Equal(t, int64(0xff), c.Int)

	f, err := ReadEncodedValue(NewBuffer([]byte{0x10, 0x40}))
	require.NoError(t, err)
	assert.Equal(t, float32(2.0), f.Float32())
}

func TestAnnotationSkip(t *testing.T) {
	b := NewBuffer(nil)
	EncodedValue{Type: ValueArray, Array: []EncodedValue{{Type: ValueLong, Int: -1}, {Type: ValueBoolean}}}.Encode(b)
	b.WriteUint8(0xaa)
	r := NewBuffer(b.Bytes())
	require.NoError(t, SkipEncodedValue(r))
	next, err := r.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0xaa), next)
}
