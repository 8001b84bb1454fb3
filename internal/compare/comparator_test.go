package compare_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexdiff/internal/compare"
	"dexdiff/internal/dalvik"
	"dexdiff/internal/dex"
	"dexdiff/internal/dex/dextest"
)

var logPrint = dextest.MethodRef{Class: "Lcom/app/Log;", Name: "print", Return: "V", Params: []string{"Ljava/lang/String;"}}

// classA has run()V with three instructions loading s.
func classA(s string) *dextest.Class {
	return &dextest.Class{
		Descriptor: "Lcom/app/A;",
		Flags:      dex.AccPublic,
		Super:      "Ljava/lang/Object;",
		SourceFile: "A.java",
		VirtualMethods: []dextest.Method{{
			Name:   "run",
			Return: "V",
			Flags:  dex.AccPublic,
			Code: &dextest.Code{
				Registers: 2, Ins: 1, Outs: 1,
				Insns: []dextest.Insn{
					dextest.ConstString(0, s),
					dextest.InvokeStatic(logPrint, 0),
					dextest.ReturnVoid(),
				},
			},
		}},
	}
}

// classFoo has foo()V whose only literal is lit.
func classFoo(desc string, lit int8) *dextest.Class {
	return &dextest.Class{
		Descriptor: desc,
		Flags:      dex.AccPublic,
		Super:      "Ljava/lang/Object;",
		DirectMethods: []dextest.Method{{
			Name:   "foo",
			Return: "V",
			Flags:  dex.AccPublic | dex.AccStatic,
			Code: &dextest.Code{
				Registers: 1,
				Insns:     []dextest.Insn{dextest.Const4(0, lit), dextest.ReturnVoid()},
			},
		}},
	}
}

func build(t *testing.T, name string, classes ...*dextest.Class) *dex.Dex {
	t.Helper()
	b := dextest.New()
	for _, c := range classes {
		b.AddClass(c)
	}
	return b.Dex(t, name)
}

func run(t *testing.T, opts compare.Options, old, new *dex.Dex) *compare.Result {
	t.Helper()
	c, err := compare.New(opts)
	require.NoError(t, err)
	res, err := c.Compare(context.Background(), old, new)
	require.NoError(t, err)
	return res
}

func TestCompareSelf(t *testing.T) {
	d := build(t, "classes.dex", classA("x"), classFoo("Lcom/app/Foo;", 1))
	res := run(t, compare.Options{}, d, d)
	assert.True(t, res.Empty())
	assert.Equal(t, &compare.Result{Added: []string{}, Deleted: []string{}, Changed: []string{}}, res)
}

func TestCompareIndexShift(t *testing.T) {
	old := build(t, "old.dex", classA("x"), classFoo("Lcom/app/Foo;", 1))

	b := dextest.New().
		AddString("AAA").
		AddString("Zzz").
		AddType("La/Pad;").
		AddType("Lcom/app/Aa;").
		AddField(dextest.FieldRef{Class: "La/Pad;", Name: "a", Type: "I"}).
		AddMethod(dextest.MethodRef{Class: "La/Pad;", Name: "a", Return: "V"})
	b.AddClass(classFoo("Lcom/app/Foo;", 1)).AddClass(classA("x"))
	shifted := b.Dex(t, "new.dex")

	// the same string now sits at another index
	idx := func(d *dex.Dex, s string) uint32 {
		for i := uint32(0); i < uint32(d.StringCount()); i++ {
			v, err := d.String(i)
			require.NoError(t, err)
			if v == s {
				return i
			}
		}
		t.Fatalf("%q not found", s)
		return 0
	}
	require.NotEqual(t, idx(old, "x"), idx(shifted, "x"))

	res := run(t, compare.Options{}, old, shifted)
	assert.True(t, res.Empty(), "%+v", res)
}

func TestCompareConstString(t *testing.T) {
	old := build(t, "old.dex", classA("x"))

	tests := []struct {
		name    string
		new     *dex.Dex
		changed []string
	}{
		{"same value", dextest.New().AddString("a").AddString("w").AddClass(classA("x")).Dex(t, "new.dex"), []string{}},
		{"new value", build(t, "new.dex", classA("y")), []string{"Lcom/app/A;"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, compare.Options{}, old, tt.new)
			assert.Equal(t, tt.changed, res.Changed)
			assert.Empty(t, res.Added)
			assert.Empty(t, res.Deleted)
		})
	}
}

func TestCompareConstStringLoneSurrogate(t *testing.T) {
	old := build(t, "old.dex", classA("\xed\xa0\x80"))
	tests := []struct {
		name    string
		new     *dex.Dex
		changed []string
	}{
		{"same unit", build(t, "new.dex", classA("\xed\xa0\x80")), []string{}},
		{"high to low", build(t, "new.dex", classA("\xed\xb0\x80")), []string{"Lcom/app/A;"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, compare.Options{}, old, tt.new)
			assert.Equal(t, tt.changed, res.Changed)
			assert.Empty(t, res.Added)
			assert.Empty(t, res.Deleted)
		})
	}
}

func TestCompareLiteral(t *testing.T) {
	old := build(t, "old.dex", classA("x"), classFoo("Lcom/app/Foo;", 1))
	new := build(t, "new.dex", classA("x"), classFoo("Lcom/app/Foo;", 2))
	res := run(t, compare.Options{}, old, new)
	assert.Equal(t, []string{"Lcom/app/Foo;"}, res.Changed)
}

func TestCompareAddedDeleted(t *testing.T) {
	old := build(t, "old.dex", classA("x"), classFoo("Lcom/app/B;", 1))
	new := build(t, "new.dex", classA("y"), classFoo("Lcom/app/C;", 1))
	res := run(t, compare.Options{}, old, new)
	assert.Equal(t, []string{"Lcom/app/C;"}, res.Added)
	assert.Equal(t, []string{"Lcom/app/B;"}, res.Deleted)
	assert.Equal(t, []string{"Lcom/app/A;"}, res.Changed)

	c, err := compare.New(compare.Options{})
	require.NoError(t, err)
	m, err := c.Membership(old, new)
	require.NoError(t, err)
	assert.Equal(t, res.Added, m.Added)
	assert.Equal(t, res.Deleted, m.Deleted)
	assert.Empty(t, m.Changed)

	res = run(t, compare.Options{ClassPatterns: []string{"com.app.A", "com.app.B"}}, old, new)
	assert.Empty(t, res.Added)
	assert.Equal(t, []string{"Lcom/app/B;"}, res.Deleted)
	assert.Equal(t, []string{"Lcom/app/A;"}, res.Changed)
}

func TestCompareLoaderInterface(t *testing.T) {
	impl := func() *dextest.Class {
		c := classFoo("Lcom/app/Impl;", 1)
		c.Interfaces = []string{"Lcom/app/loader/Boot;"}
		return c
	}
	boot := func(flags uint32) *dextest.Class {
		return &dextest.Class{
			Descriptor: "Lcom/app/loader/Boot;",
			Flags:      flags,
			Super:      "Ljava/lang/Object;",
		}
	}
	iface := dex.AccPublic | dex.AccInterface | dex.AccAbstract
	old := build(t, "old.dex", impl(), boot(iface))
	new := build(t, "new.dex", impl(), boot(iface|dex.AccSynthetic))

	res := run(t, compare.Options{}, old, new)
	assert.Equal(t, []string{"Lcom/app/Impl;", "Lcom/app/loader/Boot;"}, res.Changed)

	res = run(t, compare.Options{LoaderPatterns: []string{"com.app.loader.*"}}, old, new)
	assert.Equal(t, []string{"Lcom/app/loader/Boot;"}, res.Changed)
}

func TestCompareMembers(t *testing.T) {
	base := func() *dextest.Class {
		return &dextest.Class{
			Descriptor: "Lcom/app/M;",
			Flags:      dex.AccPublic,
			Super:      "Ljava/lang/Object;",
			Annotations: []dextest.Annotation{{
				Visibility: dex.VisibilityRuntime,
				Type:       "Lcom/app/Tag;",
				Elements:   []dextest.Element{{Name: "value", Value: dextest.Value{Type: dex.ValueString, Str: "a"}}},
			}},
			StaticFields: []dextest.Field{{Name: "N", Type: "I", Flags: dex.AccStatic}},
			StaticValues: []dextest.Value{{Type: dex.ValueInt, Int: 3}},
			DirectMethods: []dextest.Method{{
				Name:   "m",
				Return: "V",
				Params: []string{"I"},
				Flags:  dex.AccStatic,
				Code: &dextest.Code{
					Registers: 1, Ins: 1,
					Insns: []dextest.Insn{
						dextest.IfEqz(0, 3),
						dextest.Nop(),
						dextest.ReturnVoid(),
						dextest.Return(0),
					},
					Debug: &dextest.Debug{
						LineStart:  1,
						ParamNames: []string{"n"},
						Ops:        []dextest.DebugOp{{Opcode: dex.DbgStartLocal, Register: 0, Name: "n", Type: "I"}},
					},
				},
			}},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *dextest.Class)
		same   bool
	}{
		{"unchanged", func(c *dextest.Class) {}, true},
		{"annotation value", func(c *dextest.Class) {
			c.Annotations[0].Elements[0].Value.Str = "b"
		}, false},
		{"annotation visibility", func(c *dextest.Class) {
			c.Annotations[0].Visibility = dex.VisibilityBuild
		}, false},
		{"static value", func(c *dextest.Class) {
			c.StaticValues[0].Int = 4
		}, false},
		{"static values dropped", func(c *dextest.Class) {
			c.StaticValues = nil
		}, false},
		{"field flags", func(c *dextest.Class) {
			c.StaticFields[0].Flags |= dex.AccFinal
		}, false},
		{"field type", func(c *dextest.Class) {
			c.StaticFields[0].Type = "J"
			c.StaticValues[0].Type = dex.ValueLong
		}, false},
		{"source file", func(c *dextest.Class) {
			c.SourceFile = "M.java"
		}, false},
		{"parameter type", func(c *dextest.Class) {
			c.DirectMethods[0].Params = []string{"J"}
		}, false},
		{"branch target", func(c *dextest.Class) {
			c.DirectMethods[0].Code.Insns[0] = dextest.IfEqz(0, 4)
		}, false},
		{"branch register", func(c *dextest.Class) {
			c.DirectMethods[0].Code.Insns[0] = dextest.IfEqz(1, 3)
		}, false},
		{"local name", func(c *dextest.Class) {
			c.DirectMethods[0].Code.Debug.Ops[0].Name = "count"
		}, false},
		{"parameter name", func(c *dextest.Class) {
			c.DirectMethods[0].Code.Debug.ParamNames = []string{""}
		}, false},
		{"line start", func(c *dextest.Class) {
			c.DirectMethods[0].Code.Debug.LineStart = 2
		}, false},
		{"abstract", func(c *dextest.Class) {
			c.DirectMethods[0].Code = nil
		}, false},
	}
	old := build(t, "old.dex", base())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			res := run(t, compare.Options{}, old, build(t, "new.dex", c))
			if tt.same {
				assert.Empty(t, res.Changed)
			} else {
				assert.Equal(t, []string{"Lcom/app/M;"}, res.Changed)
			}
		})
	}
}

func TestCompareInstructionForms(t *testing.T) {
	body := func(insns ...dextest.Insn) *dextest.Class {
		return &dextest.Class{
			Descriptor: "Lcom/app/S;",
			Flags:      dex.AccPublic,
			Super:      "Ljava/lang/Object;",
			DirectMethods: []dextest.Method{{
				Name: "s", Return: "V", Params: []string{"I"}, Flags: dex.AccStatic,
				Code: &dextest.Code{Registers: 1, Ins: 1, Insns: insns},
			}},
		}
	}
	tests := []struct {
		name     string
		old, new []dextest.Insn
		same     bool
	}{
		{
			name: "jumbo string",
			old:  []dextest.Insn{dextest.ConstString(0, "k"), dextest.ReturnVoid()},
			new:  []dextest.Insn{dextest.ConstStringJumbo(0, "k"), dextest.ReturnVoid()},
			same: true,
		},
		{
			name: "goto widths",
			old:  []dextest.Insn{dextest.Goto(1), dextest.ReturnVoid()},
			new:  []dextest.Insn{dextest.Goto16(2), dextest.ReturnVoid()},
			same: true,
		},
		{
			name: "loop",
			old:  []dextest.Insn{dextest.Nop(), dextest.Goto(-1)},
			new:  []dextest.Insn{dextest.Nop(), dextest.Goto32(-1)},
			same: true,
		},
		{
			name: "switch targets",
			old: []dextest.Insn{
				dextest.PackedSwitch(0, 6), dextest.ReturnVoid(), dextest.Return(0), dextest.Nop(),
				dextest.PackedSwitchPayload(0, 3),
			},
			new: []dextest.Insn{
				dextest.PackedSwitch(0, 6), dextest.ReturnVoid(), dextest.Return(0), dextest.Nop(),
				dextest.PackedSwitchPayload(0, 4),
			},
			same: false,
		},
		{
			name: "sparse switch",
			old: []dextest.Insn{
				dextest.SparseSwitch(0, 6), dextest.ReturnVoid(), dextest.Return(0), dextest.Nop(),
				dextest.SparseSwitchPayload([]int32{1, 5}, []int32{3, 4}),
			},
			new: []dextest.Insn{
				dextest.SparseSwitch(0, 6), dextest.ReturnVoid(), dextest.Return(0), dextest.Nop(),
				dextest.SparseSwitchPayload([]int32{1, 5}, []int32{3, 4}),
			},
			same: true,
		},
		{
			name: "sparse switch keys",
			old: []dextest.Insn{
				dextest.SparseSwitch(0, 6), dextest.ReturnVoid(), dextest.Return(0), dextest.Nop(),
				dextest.SparseSwitchPayload([]int32{1, 5}, []int32{3, 4}),
			},
			new: []dextest.Insn{
				dextest.SparseSwitch(0, 6), dextest.ReturnVoid(), dextest.Return(0), dextest.Nop(),
				dextest.SparseSwitchPayload([]int32{1, 6}, []int32{3, 4}),
			},
			same: false,
		},
		{
			name: "array data",
			old:  []dextest.Insn{dextest.FillArrayData(0, 4), dextest.ReturnVoid(), dextest.FillArrayDataPayload(1, []byte{1, 2})},
			new:  []dextest.Insn{dextest.FillArrayData(0, 4), dextest.ReturnVoid(), dextest.FillArrayDataPayload(1, []byte{1, 3})},
			same: false,
		},
		{
			name: "literal",
			old:  []dextest.Insn{dextest.AddIntLit8(0, 0, 1), dextest.ReturnVoid()},
			new:  []dextest.Insn{dextest.AddIntLit8(0, 0, 2), dextest.ReturnVoid()},
			same: false,
		},
		{
			name: "extra instruction",
			old:  []dextest.Insn{dextest.ReturnVoid()},
			new:  []dextest.Insn{dextest.Nop(), dextest.ReturnVoid()},
			same: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, compare.Options{}, build(t, "old.dex", body(tt.old...)), build(t, "new.dex", body(tt.new...)))
			assert.Equal(t, tt.same, len(res.Changed) == 0, "%+v", res)
		})
	}
}

func TestCompareErrors(t *testing.T) {
	bad := classFoo("Lcom/app/Bad;", 0)
	bad.DirectMethods[0].Code.Insns = []dextest.Insn{dextest.Raw(0x003e)}
	d := build(t, "classes.dex", bad)

	c, err := compare.New(compare.Options{Workers: 1})
	require.NoError(t, err)
	_, err = c.Compare(context.Background(), d, d)
	require.ErrorIs(t, err, dalvik.ErrInvalidInstruction)
	assert.Contains(t, err.Error(), "Lcom/app/Bad;")
	assert.Contains(t, err.Error(), "foo()V")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Compare(ctx, d, d)
	assert.ErrorIs(t, err, context.Canceled)
}
