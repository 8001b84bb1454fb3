package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"dexdiff/internal/dex"
	"dexdiff/internal/loader"
)

// absent is the argument that stands for a dex file missing on one side.
const absent = "-"

func (a *app) newCheckCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "check OLD NEW",
		Short: "Check that loader classes are unchanged between two dex files",
		Long: `Check that loader classes are unchanged between two versions of one dex
file. Pass - for a side that does not exist. The file is the primary dex
when --name, or else the file name, is classes.dex.`,
		Example: `
dexdiff check --loader 'com.app.loader.*' old/classes.dex new/classes.dex
dexdiff check --name classes2.dex --loader 'com.app.loader.*' - new/classes2.dex
  `,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				name = filepath.Base(args[1])
				if args[1] == absent {
					name = filepath.Base(args[0])
				}
			}

			oldDex, err := openOptional(args[0])
			if err != nil {
				return err
			}
			newDex, err := openOptional(args[1])
			if err != nil {
				return err
			}
			defer closeOptional(oldDex)
			defer closeOptional(newDex)

			checker, err := loader.NewChecker(loader.Options{
				LoaderPatterns:       a.cfg.LoaderPatterns,
				IgnoreChangePatterns: a.cfg.IgnoreLoaderChangePatterns,
				AllowLoaderInAnyDex:  a.cfg.AllowLoaderInAnyDex,
				Workers:              a.cfg.Workers,
				Logger:               a.logger.Logger,
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			st := report(w)
			err = checker.Check(cmd.Context(), loader.Pair{Name: name, Old: oldDex, New: newDex})
			var inv *loader.InvariantError
			if errors.As(err, &inv) {
				fmt.Fprintln(w, st.Error.Render(fmt.Sprintf("%s: %s", inv.Dex, inv.Kind)))
				for _, desc := range inv.Classes {
					fmt.Fprintln(w, st.Changed.Render("  "+desc))
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(w, st.Added.Render(name+": loader classes ok"))
			return nil
		},
	}
	c.Flags().String("name", "", "Dex file name, classes.dex for the primary dex (default: file name)")
	c.Flags().StringSlice("loader", nil, "Loader class pattern, repeatable")
	c.Flags().StringSlice("ignore", nil, "Loader class pattern whose changes are only logged, repeatable")
	c.Flags().Bool("allow-any-dex", false, "Only warn about loader classes outside the primary dex")
	return c
}

func openOptional(path string) (*dex.Dex, error) {
	if path == absent {
		return nil, nil
	}
	return dex.Open(path)
}

func closeOptional(d *dex.Dex) {
	if d != nil {
		d.Close()
	}
}
