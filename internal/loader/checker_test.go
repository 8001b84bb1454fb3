package loader_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexdiff/internal/dex"
	"dexdiff/internal/dex/dextest"
	"dexdiff/internal/loader"
)

func class(desc string, flags uint32) *dextest.Class {
	return &dextest.Class{Descriptor: desc, Flags: flags, Super: "Ljava/lang/Object;"}
}

func build(t *testing.T, name string, classes ...*dextest.Class) *dex.Dex {
	t.Helper()
	b := dextest.New()
	for _, c := range classes {
		b.AddClass(c)
	}
	return b.Dex(t, name)
}

const (
	bootApp = "Lcom/app/loader/BootApp;"
	helper  = "Lcom/app/loader/Helper;"
	plain   = "Lcom/app/Main;"
)

func TestCheck(t *testing.T) {
	pub := uint32(dex.AccPublic)
	primaryOld := build(t, "classes.dex", class(bootApp, pub), class(helper, pub), class(plain, pub))

	tests := []struct {
		name    string
		pair    loader.Pair
		opts    loader.Options
		kind    loader.Kind
		classes []string
		logged  string
	}{
		{
			name: "unchanged loaders, changed app class",
			pair: loader.Pair{Name: "classes.dex", Old: primaryOld,
				New: build(t, "classes.dex", class(bootApp, pub), class(helper, pub), class(plain, pub|dex.AccFinal))},
		},
		{
			name: "deleted loader class",
			pair: loader.Pair{Name: "classes.dex", Old: primaryOld,
				New: build(t, "classes.dex", class(bootApp, pub), class(plain, pub))},
		},
		{
			name:    "changed loader class",
			pair:    loader.Pair{Name: "classes.dex", Old: primaryOld, New: build(t, "classes.dex", class(bootApp, pub|dex.AccFinal), class(helper, pub))},
			kind:    loader.KindLoaderChanged,
			classes: []string{bootApp},
		},
		{
			name:   "changed loader class ignored",
			pair:   loader.Pair{Name: "classes.dex", Old: primaryOld, New: build(t, "classes.dex", class(bootApp, pub|dex.AccFinal), class(helper, pub))},
			opts:   loader.Options{IgnoreChangePatterns: []string{"com.app.loader.Boot*"}},
			logged: bootApp,
		},
		{
			name: "added loader class",
			pair: loader.Pair{Name: "classes.dex", Old: primaryOld,
				New: build(t, "classes.dex", class(bootApp, pub), class(helper, pub), class("Lcom/app/loader/Extra;", pub))},
			kind:    loader.KindLoaderAdded,
			classes: []string{"Lcom/app/loader/Extra;"},
		},
		{
			name:    "no loader in old primary",
			pair:    loader.Pair{Name: "classes.dex", Old: build(t, "classes.dex", class(plain, pub)), New: primaryOld},
			kind:    loader.KindLoaderNotInPrimaryOld,
			classes: []string{bootApp, helper},
		},
		{
			name: "old primary holds only some loader classes",
			pair: loader.Pair{Name: "classes.dex", Old: build(t, "classes.dex", class(bootApp, pub), class(plain, pub)),
				New: primaryOld},
			kind:    loader.KindLoaderAdded,
			classes: []string{helper},
		},
		{
			name: "primary old missing",
			pair: loader.Pair{Name: "classes.dex", New: primaryOld},
			kind: loader.KindPrimaryOldMissing,
		},
		{
			name: "primary new missing",
			pair: loader.Pair{Name: "classes.dex", Old: primaryOld},
			kind: loader.KindPrimaryNewMissing,
		},
		{
			name: "secondary without loaders",
			pair: loader.Pair{Name: "classes2.dex", Old: build(t, "classes2.dex", class(plain, pub))},
		},
		{
			name:    "loader in old secondary",
			pair:    loader.Pair{Name: "classes2.dex", Old: primaryOld, New: build(t, "classes2.dex", class(plain, pub))},
			kind:    loader.KindFoundInSecondaryOld,
			classes: []string{bootApp, helper},
		},
		{
			name:    "loader in new secondary",
			pair:    loader.Pair{Name: "classes2.dex", New: build(t, "classes2.dex", class(helper, pub))},
			kind:    loader.KindFoundInSecondaryNew,
			classes: []string{helper},
		},
		{
			name:   "loader in secondary allowed",
			pair:   loader.Pair{Name: "classes2.dex", New: build(t, "classes2.dex", class(helper, pub))},
			opts:   loader.Options{AllowLoaderInAnyDex: true},
			logged: helper,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			opts := tt.opts
			opts.LoaderPatterns = []string{"com.app.loader.*"}
			opts.Logger = log.New(&buf)
			c, err := loader.NewChecker(opts)
			require.NoError(t, err)

			err = c.Check(context.Background(), tt.pair)
			if tt.kind == "" {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, loader.ErrLoaderClassInvariantViolated)
				var ie *loader.InvariantError
				require.ErrorAs(t, err, &ie)
				assert.Equal(t, tt.kind, ie.Kind)
				assert.Equal(t, tt.classes, ie.Classes)
				assert.Equal(t, tt.pair.Name, ie.Dex)
			}
			if tt.logged != "" {
				assert.Contains(t, buf.String(), tt.logged)
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestCheckWithoutPatterns(t *testing.T) {
	c, err := loader.NewChecker(loader.Options{})
	require.NoError(t, err)
	d := build(t, "classes.dex", class(bootApp, dex.AccPublic))
	assert.NoError(t, c.Check(context.Background(), loader.Pair{Name: "classes.dex", Old: d, New: d}))
	assert.Error(t, c.Check(context.Background(), loader.Pair{Name: "classes.dex"}))
}

func TestInvariantErrorMessage(t *testing.T) {
	err := &loader.InvariantError{Kind: loader.KindLoaderChanged, Dex: "classes.dex", Classes: []string{"La;", "Lb;"}}
	assert.Equal(t, "classes.dex: loader classes changed in the new primary dex would not take effect: La;, Lb;", err.Error())
	assert.True(t, loader.IsPrimary("classes.dex"))
	assert.False(t, loader.IsPrimary("classes2.dex"))
}
