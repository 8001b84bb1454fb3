package dex_test

import (
	"dexdiff/internal/dex"
	"dexdiff/internal/dex/dextest"
)

var (
	objectInit = dextest.MethodRef{Class: "Ljava/lang/Object;", Name: "<init>", Return: "V"}
	println    = dextest.MethodRef{Class: "Ljava/io/PrintStream;", Name: "println", Return: "V", Params: []string{"Ljava/lang/String;"}}
	sysOut     = dextest.FieldRef{Class: "Ljava/lang/System;", Name: "out", Type: "Ljava/io/PrintStream;"}
)

// sample builds a file exercising every data section.
func sample() *dextest.Builder {
	b := dextest.New()
	b.AddClass(&dextest.Class{
		Descriptor: "Lcom/app/A;",
		Flags:      dex.AccPublic,
		Super:      "Ljava/lang/Object;",
		Interfaces: []string{"Ljava/lang/Runnable;"},
		SourceFile: "A.java",
		Annotations: []dextest.Annotation{{
			Visibility: dex.VisibilityRuntime,
			Type:       "Lcom/app/Marker;",
			Elements: []dextest.Element{
				{Name: "value", Value: dextest.Value{Type: dex.ValueString, Str: "x"}},
				{Name: "ids", Value: dextest.Value{Type: dex.ValueArray, Array: []dextest.Value{
					{Type: dex.ValueInt, Int: -3},
					{Type: dex.ValueLong, Int: 1 << 40},
				}}},
			},
		}},
		StaticFields: []dextest.Field{
			{Name: "COUNT", Type: "I", Flags: dex.AccStatic | dex.AccFinal},
			{Name: "NAME", Type: "Ljava/lang/String;", Flags: dex.AccStatic},
		},
		StaticValues: []dextest.Value{
			{Type: dex.ValueInt, Int: 7},
			{Type: dex.ValueString, Str: "hello"},
		},
		InstanceFields: []dextest.Field{
			{Name: "state", Type: "J", Flags: dex.AccPrivate, Annotations: []dextest.Annotation{{Visibility: dex.VisibilityBuild, Type: "Lcom/app/Marker;"}}},
		},
		DirectMethods: []dextest.Method{{
			Name:   "<init>",
			Return: "V",
			Flags:  dex.AccPublic | dex.AccConstructor,
			Code: &dextest.Code{
				Registers: 1, Ins: 1, Outs: 1,
				Insns: []dextest.Insn{dextest.InvokeDirect(objectInit, 0), dextest.ReturnVoid()},
			},
		}},
		VirtualMethods: []dextest.Method{{
			Name:             "run",
			Return:           "V",
			Params:           []string{"I"},
			Flags:            dex.AccPublic,
			ParamAnnotations: [][]dextest.Annotation{{{Visibility: dex.VisibilityRuntime, Type: "Lcom/app/Marker;"}}},
			Code: &dextest.Code{
				Registers: 3, Ins: 2, Outs: 2,
				Insns: []dextest.Insn{
					dextest.SGetObject(0, sysOut),
					dextest.ConstString(1, "x"),
					dextest.InvokeVirtual(println, 0, 1),
					dextest.ReturnVoid(),
				},
				Tries:    []dextest.Try{{Start: 0, Count: 6, Handler: 0}},
				Handlers: []dextest.Handler{{Types: []string{"Ljava/lang/Exception;"}, Addrs: []uint32{6}, HasCatchAll: true, CatchAll: 6}},
				Debug: &dextest.Debug{
					LineStart:  10,
					ParamNames: []string{"n"},
					Ops: []dextest.DebugOp{
						{Opcode: dex.DbgSetFile, Name: "A.java"},
						{Opcode: dex.DbgStartLocal, Register: 2, Name: "n", Type: "I"},
						{Opcode: dex.DbgAdvancePC, AddrDiff: 2},
						{Opcode: dex.DbgAdvanceLine, LineDiff: -1},
						{Opcode: 0x0e},
					},
				},
			},
		}},
	})
	b.AddClass(&dextest.Class{
		Descriptor: "Lcom/app/B;",
		Flags:      dex.AccPublic | dex.AccInterface | dex.AccAbstract,
		Super:      "Ljava/lang/Object;",
		VirtualMethods: []dextest.Method{
			{Name: "call", Return: "Ljava/lang/Object;", Params: []string{"[B", "J"}, Flags: dex.AccPublic | dex.AccAbstract},
		},
	})
	return b
}
