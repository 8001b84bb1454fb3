package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dexdiff/internal/dexfile"
	"dexdiff/internal/patch"
)

// ManifestName is the file the patch command writes next to the patches.
const ManifestName = "manifest.json"

func (a *app) newPatchCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "patch OLD_DIR NEW_DIR",
		Short: "Build patches for every classes*.dex of two builds",
		Long: `Pair the classes*.dex files of two directories by name and write, for
each one, a bsdiff patch or the whole new file, plus a manifest.`,
		Example: `
dexdiff patch build/old build/new --out build/patch --loader 'com.app.loader.*'
  `,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.OutputDir == "" {
				return fmt.Errorf("an output directory is required (--out)")
			}
			names, err := dexNames(args[0], args[1])
			if err != nil {
				return err
			}
			if len(names) == 0 {
				return fmt.Errorf("no classes*.dex in %s or %s", args[0], args[1])
			}

			var images []*dexfile.Image
			defer func() {
				for _, im := range images {
					im.Close()
				}
			}()
			load := func(dir, name string) ([]byte, error) {
				im, err := dexfile.Open(filepath.Join(dir, name))
				if errors.Is(err, fs.ErrNotExist) {
					return nil, nil
				}
				if err != nil {
					return nil, err
				}
				images = append(images, im)
				return im.All, nil
			}
			pairs := make([]patch.Pair, 0, len(names))
			for _, name := range names {
				p := patch.Pair{Name: name}
				if p.Old, err = load(args[0], name); err != nil {
					return err
				}
				if p.New, err = load(args[1], name); err != nil {
					return err
				}
				pairs = append(pairs, p)
			}

			opts := a.cfg.PatchOptions()
			opts.Logger = a.logger.Logger
			o, err := patch.New(opts)
			if err != nil {
				return err
			}
			m, err := o.Run(cmd.Context(), pairs)
			if err != nil {
				return err
			}
			if err := writePatch(a.cfg.OutputDir, m); err != nil {
				return err
			}
			printManifest(cmd.OutOrStdout(), m)
			return nil
		},
	}
	c.Flags().StringP("out", "o", "", "Output directory")
	c.Flags().StringSlice("loader", nil, "Loader class pattern, repeatable")
	c.Flags().StringSlice("ignore", nil, "Loader class pattern whose changes are only logged, repeatable")
	c.Flags().Bool("allow-any-dex", false, "Only warn about loader classes outside the primary dex")
	c.Flags().Bool("ignore-warning", false, "Log loader class violations instead of failing")
	c.Flags().Float64("max-patch-ratio", patch.DefaultMaxPatchRatio, "Ship the whole dex when patch/new exceeds this")
	return c
}

// dexIndex orders classes.dex, classes2.dex, classes3.dex and so on.
func dexIndex(name string) (int, bool) {
	if !strings.HasPrefix(name, "classes") || !strings.HasSuffix(name, ".dex") {
		return 0, false
	}
	mid := strings.TrimSuffix(strings.TrimPrefix(name, "classes"), ".dex")
	if mid == "" {
		return 1, true
	}
	n, err := strconv.Atoi(mid)
	if err != nil || n < 2 {
		return 0, false
	}
	return n, true
}

// dexNames lists the classes*.dex names found in either directory.
func dexNames(dirs ...string) ([]string, error) {
	seen := map[string]int{}
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if i, ok := dexIndex(e.Name()); ok {
				seen[e.Name()] = i
			}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return seen[names[i]] < seen[names[j]] })
	return names, nil
}

// writePatch writes one file per shipped entry and the manifest.
func writePatch(dir string, m *patch.Manifest) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, e := range m.Entries {
		var name string
		switch e.Mode {
		case patch.ModePatch:
			name = e.Name + ".patch"
		case patch.ModeFull:
			name = e.Name
		default:
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, name), e.Patch, 0o644); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, ManifestName), append(data, '\n'), 0o644)
}

func printManifest(out io.Writer, m *patch.Manifest) {
	st := report(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEX\tMODE\tOLD\tNEW\tSHIPPED")
	for _, e := range m.Entries {
		shipped := "-"
		if e.PatchSize > 0 {
			shipped = humanize.Bytes(uint64(e.PatchSize))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Name, e.Mode,
			humanize.Bytes(uint64(e.OldSize)), humanize.Bytes(uint64(e.NewSize)), shipped)
	}
	w.Flush()
	for _, mv := range m.Moved {
		fmt.Fprintln(out, st.Changed.Render(fmt.Sprintf("moved %s: %s -> %s", mv.Class, mv.From, mv.To)))
	}
}
