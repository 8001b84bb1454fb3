package dalvik_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexdiff/internal/dalvik"
	"dexdiff/internal/dex"
	"dexdiff/internal/dex/dextest"
)

func TestDisassembleClass(t *testing.T) {
	printer := dextest.MethodRef{Class: "Lcom/app/Log;", Name: "i", Return: "V", Params: []string{"Ljava/lang/String;"}}
	b := dextest.New().AddClass(&dextest.Class{
		Descriptor: "Lcom/app/A;",
		Flags:      dex.AccPublic | dex.AccFinal,
		Super:      "Ljava/lang/Object;",
		Interfaces: []string{"Ljava/lang/Runnable;"},
		SourceFile: "A.java",
		StaticFields: []dextest.Field{
			{Name: "TAG", Type: "Ljava/lang/String;", Flags: dex.AccPrivate | dex.AccStatic | dex.AccFinal},
		},
		VirtualMethods: []dextest.Method{{
			Name:   "run",
			Return: "V",
			Flags:  dex.AccPublic,
			Code: &dextest.Code{
				Registers: 1, Ins: 1, Outs: 1,
				Insns: []dextest.Insn{
					dextest.ConstString(0, "hello"),
					dextest.InvokeStatic(printer, 0),
					dextest.ReturnVoid(),
				},
			},
		}},
	})
	d := b.Dex(t, "classes.dex")
	cd, ok, err := d.ClassByDescriptor("Lcom/app/A;")
	require.NoError(t, err)
	require.True(t, ok)

	text, err := dalvik.DisassembleClass(d, cd)
	require.NoError(t, err)

	want := `.class public final Lcom/app/A;
.super Ljava/lang/Object;
.source "A.java"
.implements Ljava/lang/Runnable;

.field private static final TAG:Ljava/lang/String;

.method public run()V
    .registers 1
    0000: const-string v0, "hello"
    0002: invoke-static {v0}, Lcom/app/Log;->i(Ljava/lang/String;)V
    0005: return-void
.end method
`
	assert.Equal(t, want, text)
}

func TestAccessString(t *testing.T) {
	assert.Equal(t, "public static final", dalvik.AccessString(dex.AccPublic|dex.AccStatic|dex.AccFinal))
	assert.Equal(t, "", dalvik.AccessString(0))
	assert.Equal(t, "private constructor", dalvik.AccessString(dex.AccPrivate|dex.AccConstructor))
}
