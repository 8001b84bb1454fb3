// Package cmd implements the dexdiff command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime/pprof"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dexdiff/internal/dexdiff/config"
	"dexdiff/internal/dexdiff/log"
	"dexdiff/internal/dexdiff/styles"
	"dexdiff/internal/logging"
	"dexdiff/internal/ui/colorize"
)

// app is the state shared by the commands of one invocation.
type app struct {
	v       *viper.Viper
	cfg     *config.Config
	logger  *logging.Logger
	profile *os.File
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{v: config.New()}
	root := &cobra.Command{
		Use:   "dexdiff",
		Short: "Compare dex files and build hot-fix patches",
		Long: `Dexdiff compares Android dex files class by class, ignoring index
renumbering, checks that loader classes stay untouched and builds
binary patches for a set of dex files.`,
		Example: `
# List classes that differ between two builds
dexdiff diff old/classes.dex new/classes.dex

# Build patches for every classes*.dex
dexdiff patch old/ new/ --out patch/ --loader 'com.app.loader.*'
  `,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	root.PersistentFlags().String("config", "", "Config file (default is ./dexdiff.{yaml,json,toml})")
	root.PersistentFlags().StringP("cwd", "c", "", "Current working directory")
	root.PersistentFlags().BoolP("debug", "d", false, "Debug")
	root.PersistentFlags().Int("workers", 0, "Classes compared in parallel (0 means one per CPU)")
	root.PersistentFlags().String("cpuprofile", "", "Write CPU profile to file")

	root.AddCommand(
		a.newDiffCmd(),
		a.newCheckCmd(),
		a.newPatchCmd(),
		a.newDumpCmd(),
		newSchemaCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	if _, err := ResolveCwd(cmd); err != nil {
		return err
	}
	if err := config.BindFlags(a.v, cmd.Flags()); err != nil {
		return err
	}
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(a.v, path)
	if err != nil {
		return err
	}
	a.cfg = cfg

	log.Setup("", cfg.Debug)
	env := logging.EnvFromOS()
	if cfg.Debug {
		env.Level = logging.ParseLevel("debug")
	}
	a.logger = logging.Open(".", env, cmd.ErrOrStderr())

	if cpuprofile, _ := cmd.Flags().GetString("cpuprofile"); cpuprofile != "" {
		f, err := os.Create(cpuprofile)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		a.profile = f
	}
	return nil
}

func (a *app) teardown() error {
	if a.profile != nil {
		pprof.StopCPUProfile()
		a.profile.Close()
		a.profile = nil
	}
	if a.logger != nil {
		return a.logger.Close()
	}
	return nil
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

// report returns styles for w, colored only on terminals.
func report(w io.Writer) styles.Report {
	return styles.NewReport(isTerminal(w) && !colorize.Disabled())
}

// ResolveCwd changes to the --cwd directory when one is given.
func ResolveCwd(cmd *cobra.Command) (string, error) {
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd != "" {
		if err := os.Chdir(cwd); err != nil {
			return "", fmt.Errorf("failed to change directory: %w", err)
		}
		return cwd, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %w", err)
	}
	return cwd, nil
}

// Execute runs the root command. Output that is piped, or asked for as
// JSON, bypasses fang so that it stays plain.
func Execute() {
	rootCmd := NewRootCmd()

	plain := !term.IsTerminal(os.Stdout.Fd())
	for _, arg := range os.Args[1:] {
		if arg == "--json" {
			plain = true
			break
		}
	}

	if plain {
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
