// Package config loads dexdiff settings from a config file, DEXDIFF_*
// environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"dexdiff/internal/patch"
)

// EnvPrefix is prepended to every key when read from the environment.
const EnvPrefix = "DEXDIFF"

// Config is the full set of options shared by the commands.
type Config struct {
	Debug                      bool     `json:"debug" mapstructure:"debug" jsonschema:"title=Debug,description=Enable debug logging"`
	LoaderPatterns             []string `json:"loader_patterns,omitempty" mapstructure:"loader_patterns" jsonschema:"title=Loader Patterns,description=Class name globs of loader classes that must not change"`
	IgnoreLoaderChangePatterns []string `json:"ignore_loader_change_patterns,omitempty" mapstructure:"ignore_loader_change_patterns" jsonschema:"title=Ignored Loader Changes,description=Loader classes whose changes are only logged"`
	ClassPatterns              []string `json:"class_patterns,omitempty" mapstructure:"class_patterns" jsonschema:"title=Class Patterns,description=Class name globs to compare,default=*"`
	AllowLoaderInAnyDex        bool     `json:"allow_loader_in_any_dex" mapstructure:"allow_loader_in_any_dex" jsonschema:"title=Allow Loader In Any Dex,description=Only warn about loader classes outside the primary dex"`
	IgnoreWarning              bool     `json:"ignore_warning" mapstructure:"ignore_warning" jsonschema:"title=Ignore Warning,description=Log loader class violations instead of failing"`
	Workers                    int      `json:"workers,omitempty" mapstructure:"workers" jsonschema:"title=Workers,description=Classes compared in parallel (0 means one per CPU),minimum=0"`
	MaxPatchRatio              float64  `json:"max_patch_ratio,omitempty" mapstructure:"max_patch_ratio" jsonschema:"title=Max Patch Ratio,description=Largest patch size relative to the new dex before shipping it whole,default=0.6,exclusiveMinimum=0"`
	OutputDir                  string   `json:"output_dir,omitempty" mapstructure:"output_dir" jsonschema:"title=Output Directory,description=Where the patch command writes its files"`
}

// flagKeys maps flag names to config keys for BindFlags.
var flagKeys = map[string]string{
	"debug":           "debug",
	"loader":          "loader_patterns",
	"ignore":          "ignore_loader_change_patterns",
	"class":           "class_patterns",
	"allow-any-dex":   "allow_loader_in_any_dex",
	"ignore-warning":  "ignore_warning",
	"workers":         "workers",
	"max-patch-ratio": "max_patch_ratio",
	"out":             "output_dir",
}

// New returns a viper instance with defaults, environment lookup and the
// config search path set up.
func New() *viper.Viper {
	v := viper.New()
	// every key needs a default for Unmarshal to see it in the environment
	v.SetDefault("debug", false)
	v.SetDefault("loader_patterns", []string{})
	v.SetDefault("ignore_loader_change_patterns", []string{})
	v.SetDefault("class_patterns", []string{"*"})
	v.SetDefault("allow_loader_in_any_dex", false)
	v.SetDefault("ignore_warning", false)
	v.SetDefault("workers", 0)
	v.SetDefault("max_patch_ratio", patch.DefaultMaxPatchRatio)
	v.SetDefault("output_dir", "")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	v.SetConfigName("dexdiff")
	v.AddConfigPath(".")
	return v
}

// BindFlags binds those of fs that name a config key. Flags absent from
// fs are skipped.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

// Load reads path, or dexdiff.{yaml,json,toml} from the working directory
// when path is empty, and decodes the merged settings. A missing default
// config file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects settings no command can run with.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.MaxPatchRatio <= 0 {
		return fmt.Errorf("max patch ratio must be positive, got %g", c.MaxPatchRatio)
	}
	return nil
}

// PatchOptions converts c for the orchestrator.
func (c *Config) PatchOptions() patch.Options {
	return patch.Options{
		LoaderPatterns:             c.LoaderPatterns,
		IgnoreLoaderChangePatterns: c.IgnoreLoaderChangePatterns,
		AllowLoaderInAnyDex:        c.AllowLoaderInAnyDex,
		IgnoreWarning:              c.IgnoreWarning,
		MaxPatchRatio:              c.MaxPatchRatio,
		Workers:                    c.Workers,
	}
}
