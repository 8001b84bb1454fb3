package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/aymanbagabas/go-udiff"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dexdiff/internal/dalvik"
	"dexdiff/internal/dex"
	"dexdiff/internal/ui/colorize"
)

func (a *app) newDumpCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "dump FILE",
		Short: "Show the layout of a dex file or disassemble its classes",
		Example: `
# Section layout and checksums
dexdiff dump --header classes.dex

# Disassemble a class, or diff it against another build
dexdiff dump --class com.app.Foo classes.dex
dexdiff dump --class com.app.Foo --against old/classes.dex new/classes.dex
  `,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			header, _ := cmd.Flags().GetBool("header")
			classes, _ := cmd.Flags().GetStringSlice("class")
			against, _ := cmd.Flags().GetString("against")
			if against != "" && len(classes) == 0 {
				return fmt.Errorf("--against needs at least one --class")
			}

			d, err := dex.Open(args[0])
			if err != nil {
				return err
			}
			defer d.Close()

			w := cmd.OutOrStdout()
			color := isTerminal(w) && !colorize.Disabled()
			if header || len(classes) == 0 {
				if err := printHeader(w, d); err != nil {
					return err
				}
			}
			if len(classes) == 0 {
				return printClassList(w, d)
			}

			var other *dex.Dex
			if against != "" {
				if other, err = dex.Open(against); err != nil {
					return err
				}
				defer other.Close()
			}
			for _, name := range classes {
				desc := toDescriptor(name)
				text, err := disassemble(d, desc)
				if err != nil {
					return err
				}
				if other == nil {
					if text == "" {
						return fmt.Errorf("class %s not found in %s", desc, args[0])
					}
					if color {
						text, _ = colorize.Listing(text)
					}
					fmt.Fprint(w, text)
					continue
				}
				base, err := disassemble(other, desc)
				if err != nil {
					return err
				}
				diff := udiff.Unified(against, args[0], base, text)
				if color {
					diff, _ = colorize.Diff(diff)
				}
				fmt.Fprint(w, diff)
			}
			return nil
		},
	}
	c.Flags().Bool("header", false, "Show the header and section layout")
	c.Flags().StringSlice("class", nil, "Class to disassemble, dotted or as a descriptor, repeatable")
	c.Flags().String("against", "", "Show a unified diff of each --class against this dex file")
	return c
}

// toDescriptor accepts com.app.Foo as well as Lcom/app/Foo;.
func toDescriptor(name string) string {
	if strings.HasPrefix(name, "L") && strings.HasSuffix(name, ";") {
		return name
	}
	return "L" + strings.ReplaceAll(name, ".", "/") + ";"
}

// disassemble returns "" for a class d does not define.
func disassemble(d *dex.Dex, desc string) (string, error) {
	cd, ok, err := d.ClassByDescriptor(desc)
	if err != nil || !ok {
		return "", err
	}
	return dalvik.DisassembleClass(d, cd)
}

func printHeader(w io.Writer, d *dex.Dex) error {
	toc := d.TableOfContents()
	checksumOK, signatureOK := d.VerifyChecksum()
	verdict := func(ok bool) string {
		if ok {
			return "ok"
		}
		return "MISMATCH"
	}
	fmt.Fprintf(w, "file size: %d (%s)\n", toc.FileSize, humanize.Bytes(uint64(toc.FileSize)))
	fmt.Fprintf(w, "checksum:  %08x %s\n", toc.Checksum, verdict(checksumOK))
	fmt.Fprintf(w, "signature: %s %s\n", hex.EncodeToString(toc.Signature[:]), verdict(signatureOK))
	fmt.Fprintf(w, "strings %d, types %d, protos %d, fields %d, methods %d, classes %d\n\n",
		d.StringCount(), d.TypeCount(), d.ProtoCount(), d.FieldCount(), d.MethodCount(), d.ClassDefCount())
	for _, s := range toc.Sections() {
		if s.Exists() {
			fmt.Fprintln(w, s)
		}
	}
	return nil
}

func printClassList(w io.Writer, d *dex.Dex) error {
	defs, err := d.ClassDefs()
	if err != nil {
		return err
	}
	fmt.Fprintln(w)
	for _, cd := range defs {
		desc, err := d.ClassDescriptor(cd)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, strings.TrimSpace(dalvik.AccessString(cd.AccessFlags)+" "+desc))
	}
	return nil
}
