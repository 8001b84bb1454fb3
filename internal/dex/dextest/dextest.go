// Package dextest assembles small, valid dex files in memory for tests.
// Everything is described by name; the builder interns strings, types,
// prototypes, fields and methods, sorts the id tables the way d8 does and
// lays out the data sections with correct offsets, map list and checksums.
package dextest

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"dexdiff/internal/dex"
)

// FieldRef names a field.
type FieldRef struct {
	Class, Name, Type string
}

// MethodRef names a method.
type MethodRef struct {
	Class  string
	Name   string
	Return string
	Params []string
}

// Field is a field definition.
type Field struct {
	Name        string
	Type        string
	Flags       uint32
	Annotations []Annotation
}

// Method is a method definition. A nil Code makes the method abstract or
// native.
type Method struct {
	Name             string
	Return           string
	Params           []string
	Flags            uint32
	Code             *Code
	Annotations      []Annotation
	ParamAnnotations [][]Annotation
}

// Class is a class definition.
type Class struct {
	Descriptor     string
	Flags          uint32
	Super          string
	Interfaces     []string
	SourceFile     string
	StaticFields   []Field
	InstanceFields []Field
	DirectMethods  []Method
	VirtualMethods []Method
	StaticValues   []Value
	Annotations    []Annotation
}

// Code is a method body.
type Code struct {
	Registers, Ins, Outs uint16
	Insns                []Insn
	Tries                []Try
	Handlers             []Handler
	Debug                *Debug
}

type Try struct {
	Start   uint32
	Count   uint16
	Handler int
}

type Handler struct {
	Types       []string
	Addrs       []uint32
	HasCatchAll bool
	CatchAll    uint32
}

// Debug is a debug_info_item with names instead of indices. An empty name
// is written as absent. An end-of-sequence op is appended when missing.
type Debug struct {
	LineStart  uint32
	ParamNames []string
	Ops        []DebugOp
}

type DebugOp struct {
	Opcode    uint8
	Register  uint32
	AddrDiff  uint32
	LineDiff  int32
	Name      string
	Type      string
	Signature string
}

// Annotation is an annotation item or a nested annotation value.
type Annotation struct {
	Visibility uint8
	Type       string
	Elements   []Element
}

type Element struct {
	Name  string
	Value Value
}

// Value is an encoded value. Str holds the string or type descriptor,
// Field the field or enum constant, Method the method. Index is written
// unchanged for method types and method handles.
type Value struct {
	Type       dex.ValueType
	Int        int64
	Bits       uint64
	Bool       bool
	Str        string
	Field      FieldRef
	Method     MethodRef
	Index      uint32
	Array      []Value
	Annotation *Annotation
}

// Builder collects classes and extra ids and produces a dex file.
type Builder struct {
	classes []*Class

	strs    map[string]bool
	types   map[string]bool
	protos  map[string]protoSpec
	fields  map[FieldRef]bool
	methods map[string]MethodRef
}

type protoSpec struct {
	ret    string
	params []string
}

// New returns an empty builder.
func New() *Builder {
	return &Builder{
		strs:    map[string]bool{},
		types:   map[string]bool{},
		protos:  map[string]protoSpec{},
		fields:  map[FieldRef]bool{},
		methods: map[string]MethodRef{},
	}
}

// AddClass appends a class definition. Classes are written in the order
// they are added.
func (b *Builder) AddClass(c *Class) *Builder {
	b.classes = append(b.classes, c)
	return b
}

// AddString interns s even if nothing refers to it, which shifts the
// indices of every string sorted after it.
func (b *Builder) AddString(s string) *Builder {
	b.strs[s] = true
	return b
}

// AddType interns a type descriptor.
func (b *Builder) AddType(desc string) *Builder {
	b.addType(desc)
	return b
}

// AddField interns a field reference without defining it.
func (b *Builder) AddField(f FieldRef) *Builder {
	b.addField(f)
	return b
}

// AddMethod interns a method reference without defining it.
func (b *Builder) AddMethod(m MethodRef) *Builder {
	b.addMethod(m)
	return b
}

func (b *Builder) addType(desc string) {
	if desc == "" {
		return
	}
	b.strs[desc] = true
	b.types[desc] = true
}

func protoKey(ret string, params []string) string {
	return "(" + strings.Join(params, "") + ")" + ret
}

func shorty(ret string, params []string) string {
	c := func(t string) byte {
		if t[0] == '[' {
			return 'L'
		}
		return t[0]
	}
	s := []byte{c(ret)}
	for _, p := range params {
		s = append(s, c(p))
	}
	return string(s)
}

func (b *Builder) addProto(ret string, params []string) {
	b.addType(ret)
	for _, p := range params {
		b.addType(p)
	}
	b.strs[shorty(ret, params)] = true
	b.protos[protoKey(ret, params)] = protoSpec{ret: ret, params: params}
}

func (b *Builder) addField(f FieldRef) {
	b.addType(f.Class)
	b.addType(f.Type)
	b.strs[f.Name] = true
	b.fields[f] = true
}

func methodKey(m MethodRef) string {
	return m.Class + "->" + m.Name + protoKey(m.Return, m.Params)
}

func (b *Builder) addMethod(m MethodRef) {
	b.addType(m.Class)
	b.strs[m.Name] = true
	b.addProto(m.Return, m.Params)
	b.methods[methodKey(m)] = m
}

func (b *Builder) addOptionalString(s string) {
	if s != "" {
		b.strs[s] = true
	}
}

func (b *Builder) collectAnnotation(a *Annotation) {
	b.addType(a.Type)
	for _, e := range a.Elements {
		b.strs[e.Name] = true
		b.collectValue(e.Value)
	}
}

func (b *Builder) collectValue(v Value) {
	switch v.Type {
	case dex.ValueString:
		b.strs[v.Str] = true
	case dex.ValueTypeRef:
		b.addType(v.Str)
	case dex.ValueField, dex.ValueEnum:
		b.addField(v.Field)
	case dex.ValueMethod:
		b.addMethod(v.Method)
	case dex.ValueArray:
		for _, e := range v.Array {
			b.collectValue(e)
		}
	case dex.ValueAnnotation:
		b.collectAnnotation(v.Annotation)
	}
}

func (b *Builder) collect() {
	for _, c := range b.classes {
		b.addType(c.Descriptor)
		b.addType(c.Super)
		for _, i := range c.Interfaces {
			b.addType(i)
		}
		b.addOptionalString(c.SourceFile)
		for _, a := range c.Annotations {
			b.collectAnnotation(&a)
		}
		for _, v := range c.StaticValues {
			b.collectValue(v)
		}
		for _, list := range [][]Field{c.StaticFields, c.InstanceFields} {
			for _, f := range list {
				b.addField(FieldRef{Class: c.Descriptor, Name: f.Name, Type: f.Type})
				for _, a := range f.Annotations {
					b.collectAnnotation(&a)
				}
			}
		}
		for _, list := range [][]Method{c.DirectMethods, c.VirtualMethods} {
			for _, m := range list {
				b.addMethod(MethodRef{Class: c.Descriptor, Name: m.Name, Return: m.Return, Params: m.Params})
				for _, a := range m.Annotations {
					b.collectAnnotation(&a)
				}
				for _, pa := range m.ParamAnnotations {
					for _, a := range pa {
						b.collectAnnotation(&a)
					}
				}
				if m.Code != nil {
					b.collectCode(m.Code)
				}
			}
		}
	}
}

func (b *Builder) collectCode(c *Code) {
	for _, in := range c.Insns {
		switch in.kind {
		case refString:
			b.strs[in.str] = true
		case refType:
			b.addType(in.str)
		case refField:
			b.addField(in.field)
		case refMethod:
			b.addMethod(in.method)
		}
	}
	for _, h := range c.Handlers {
		for _, t := range h.Types {
			b.addType(t)
		}
	}
	if c.Debug != nil {
		for _, n := range c.Debug.ParamNames {
			b.addOptionalString(n)
		}
		for _, op := range c.Debug.Ops {
			b.addOptionalString(op.Name)
			b.addOptionalString(op.Signature)
			if op.Type != "" {
				b.addType(op.Type)
			}
		}
	}
}

// index tables assigned after sorting
type tables struct {
	strings  []string
	stringIx map[string]uint32
	types    []string
	typeIx   map[string]uint32
	protos   []protoSpec
	protoIx  map[string]uint32
	fields   []FieldRef
	fieldIx  map[FieldRef]uint32
	methods  []MethodRef
	methodIx map[string]uint32
}

func (b *Builder) sortTables() *tables {
	t := &tables{
		stringIx: map[string]uint32{},
		typeIx:   map[string]uint32{},
		protoIx:  map[string]uint32{},
		fieldIx:  map[FieldRef]uint32{},
		methodIx: map[string]uint32{},
	}
	for s := range b.strs {
		t.strings = append(t.strings, s)
	}
	sort.Strings(t.strings)
	for i, s := range t.strings {
		t.stringIx[s] = uint32(i)
	}

	for s := range b.types {
		t.types = append(t.types, s)
	}
	sort.Slice(t.types, func(i, j int) bool { return t.stringIx[t.types[i]] < t.stringIx[t.types[j]] })
	for i, s := range t.types {
		t.typeIx[s] = uint32(i)
	}

	for _, p := range b.protos {
		t.protos = append(t.protos, p)
	}
	sort.Slice(t.protos, func(i, j int) bool {
		a, c := t.protos[i], t.protos[j]
		if a.ret != c.ret {
			return t.typeIx[a.ret] < t.typeIx[c.ret]
		}
		for k := 0; k < len(a.params) && k < len(c.params); k++ {
			if a.params[k] != c.params[k] {
				return t.typeIx[a.params[k]] < t.typeIx[c.params[k]]
			}
		}
		return len(a.params) < len(c.params)
	})
	for i, p := range t.protos {
		t.protoIx[protoKey(p.ret, p.params)] = uint32(i)
	}

	for f := range b.fields {
		t.fields = append(t.fields, f)
	}
	sort.Slice(t.fields, func(i, j int) bool {
		a, c := t.fields[i], t.fields[j]
		if a.Class != c.Class {
			return t.typeIx[a.Class] < t.typeIx[c.Class]
		}
		if a.Name != c.Name {
			return t.stringIx[a.Name] < t.stringIx[c.Name]
		}
		return t.typeIx[a.Type] < t.typeIx[c.Type]
	})
	for i, f := range t.fields {
		t.fieldIx[f] = uint32(i)
	}

	for _, m := range b.methods {
		t.methods = append(t.methods, m)
	}
	sort.Slice(t.methods, func(i, j int) bool {
		a, c := t.methods[i], t.methods[j]
		if a.Class != c.Class {
			return t.typeIx[a.Class] < t.typeIx[c.Class]
		}
		if a.Name != c.Name {
			return t.stringIx[a.Name] < t.stringIx[c.Name]
		}
		return t.protoIx[protoKey(a.Return, a.Params)] < t.protoIx[protoKey(c.Return, c.Params)]
	})
	for i, m := range t.methods {
		t.methodIx[methodKey(m)] = uint32(i)
	}
	return t
}

func (t *tables) optString(s string) uint32 {
	if s == "" {
		return dex.NoIndex
	}
	return t.stringIx[s]
}

func (t *tables) optType(s string) uint32 {
	if s == "" {
		return dex.NoIndex
	}
	return t.typeIx[s]
}

func (t *tables) method(m MethodRef) uint32 { return t.methodIx[methodKey(m)] }

func (t *tables) value(v Value) dex.EncodedValue {
	out := dex.EncodedValue{Type: v.Type, Int: v.Int, Bits: v.Bits, Bool: v.Bool, Index: v.Index}
	switch v.Type {
	case dex.ValueString:
		out.Index = t.stringIx[v.Str]
	case dex.ValueTypeRef:
		out.Index = t.typeIx[v.Str]
	case dex.ValueField, dex.ValueEnum:
		out.Index = t.fieldIx[v.Field]
	case dex.ValueMethod:
		out.Index = t.method(v.Method)
	case dex.ValueArray:
		out.Array = make([]dex.EncodedValue, len(v.Array))
		for i, e := range v.Array {
			out.Array[i] = t.value(e)
		}
	case dex.ValueAnnotation:
		a := t.annotation(v.Annotation)
		out.Annotation = &a
	}
	return out
}

func (t *tables) annotation(a *Annotation) dex.EncodedAnnotation {
	out := dex.EncodedAnnotation{TypeIndex: t.typeIx[a.Type]}
	for _, e := range a.Elements {
		out.Elements = append(out.Elements, dex.AnnotationElement{NameIndex: t.stringIx[e.Name], Value: t.value(e.Value)})
	}
	return out
}

// Build lays out and returns the dex file.
func (b *Builder) Build() ([]byte, error) {
	b.collect()
	t := b.sortTables()
	w := &writer{t: t, toc: dex.NewTableOfContents(), buf: dex.NewBuffer(nil), typeLists: map[string]uint32{}}
	return w.write(b.classes)
}

// MustBuild is Build for tests.
func (b *Builder) MustBuild(tb testing.TB) []byte {
	tb.Helper()
	data, err := b.Build()
	if err != nil {
		tb.Fatalf("build dex: %v", err)
	}
	return data
}

// Dex builds the file and opens it under name.
func (b *Builder) Dex(tb testing.TB, name string) *dex.Dex {
	tb.Helper()
	d, err := dex.New(name, b.MustBuild(tb))
	if err != nil {
		tb.Fatalf("parse built dex: %v", err)
	}
	return d
}

func validateClass(c *Class) error {
	if c.Descriptor == "" {
		return fmt.Errorf("class without descriptor")
	}
	for _, m := range append(append([]Method(nil), c.DirectMethods...), c.VirtualMethods...) {
		if m.Code == nil {
			continue
		}
		for _, tr := range m.Code.Tries {
			if tr.Handler < 0 || tr.Handler >= len(m.Code.Handlers) {
				return fmt.Errorf("%s->%s: try refers to handler %d of %d", c.Descriptor, m.Name, tr.Handler, len(m.Code.Handlers))
			}
		}
	}
	return nil
}
