package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"dexdiff/internal/compare"
	"dexdiff/internal/dex"
	"dexdiff/internal/dexdiff/styles"
)

func (a *app) newDiffCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "diff OLD NEW",
		Short: "List classes added, deleted or changed between two dex files",
		Example: `
# Only look at one package, as JSON
dexdiff diff --class 'com.app.feature.*' --json old.dex new.dex
  `,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			asMarkdown, _ := cmd.Flags().GetBool("markdown")
			if asJSON && asMarkdown {
				return fmt.Errorf("--json and --markdown are mutually exclusive")
			}

			oldDex, err := dex.Open(args[0])
			if err != nil {
				return err
			}
			defer oldDex.Close()
			newDex, err := dex.Open(args[1])
			if err != nil {
				return err
			}
			defer newDex.Close()

			cmp, err := compare.New(compare.Options{
				ClassPatterns:  a.cfg.ClassPatterns,
				LoaderPatterns: a.cfg.LoaderPatterns,
				Workers:        a.cfg.Workers,
			})
			if err != nil {
				return err
			}
			a.logger.Debug("comparing", "old", args[0], "new", args[1], "classes", a.cfg.ClassPatterns)
			res, err := cmp.Compare(cmd.Context(), oldDex, newDex)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			switch {
			case asJSON:
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			case asMarkdown:
				md := markdownReport(args[0], args[1], res)
				if !isTerminal(w) {
					_, err := io.WriteString(w, md)
					return err
				}
				r, err := styles.MarkdownRenderer(100)
				if err != nil {
					return err
				}
				out, err := r.Render(md)
				if err != nil {
					return err
				}
				_, err = io.WriteString(w, out)
				return err
			}
			printResult(w, report(w), res)
			return nil
		},
	}
	c.Flags().BoolP("json", "j", false, "Output results as JSON")
	c.Flags().BoolP("markdown", "m", false, "Output results as markdown")
	c.Flags().StringSlice("class", nil, "Class name pattern to compare, repeatable (default *)")
	c.Flags().StringSlice("loader", nil, "Loader class pattern, repeatable")
	return c
}

func printResult(w io.Writer, st styles.Report, res *compare.Result) {
	groups := []struct {
		status  string
		classes []string
	}{
		{"added", res.Added},
		{"deleted", res.Deleted},
		{"changed", res.Changed},
	}
	for _, g := range groups {
		mark, style := st.Marker(g.status)
		for _, desc := range g.classes {
			fmt.Fprintln(w, style.Render(mark+" "+desc))
		}
	}
	fmt.Fprintln(w, st.Muted.Render(fmt.Sprintf("%d added, %d deleted, %d changed",
		len(res.Added), len(res.Deleted), len(res.Changed))))
}

func markdownReport(oldPath, newPath string, res *compare.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s → %s\n\n", oldPath, newPath)
	section := func(title string, classes []string) {
		fmt.Fprintf(&sb, "## %s (%d)\n\n", title, len(classes))
		if len(classes) == 0 {
			sb.WriteString("_none_\n\n")
			return
		}
		for _, desc := range classes {
			fmt.Fprintf(&sb, "- `%s` %s\n", desc, dex.PrettyDescriptor(desc))
		}
		sb.WriteString("\n")
	}
	section("Added", res.Added)
	section("Deleted", res.Deleted)
	section("Changed", res.Changed)
	return sb.String()
}
