package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexdiff/internal/dexdiff/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	c, err := config.Load(config.New(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"*"}, c.ClassPatterns)
	assert.Equal(t, 0.6, c.MaxPatchRatio)
	assert.Zero(t, c.Workers)
	assert.Empty(t, c.LoaderPatterns)
}

func TestLoadFile(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "dexdiff.yaml", "loader_patterns:\n  - com.app.loader.*\nmax_patch_ratio: 0.3\nignore_warning: true\n"},
		{"json", "dexdiff.json", `{"loader_patterns": ["com.app.loader.*"], "max_patch_ratio": 0.3, "ignore_warning": true}`},
		{"toml", "dexdiff.toml", "loader_patterns = [\"com.app.loader.*\"]\nmax_patch_ratio = 0.3\nignore_warning = true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, tt.file), []byte(tt.content), 0o644))
			t.Chdir(dir)

			c, err := config.Load(config.New(), "")
			require.NoError(t, err)
			assert.Equal(t, []string{"com.app.loader.*"}, c.LoaderPatterns)
			assert.Equal(t, 0.3, c.MaxPatchRatio)
			assert.True(t, c.IgnoreWarning)
			assert.Equal(t, []string{"*"}, c.ClassPatterns)
		})
	}
}

func TestLoadExplicitPath(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := config.Load(config.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 3\n"), 0o644))
	c, err := config.Load(config.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Workers)
}

func TestLoadEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DEXDIFF_MAX_PATCH_RATIO", "0.25")
	t.Setenv("DEXDIFF_ALLOW_LOADER_IN_ANY_DEX", "true")
	c, err := config.Load(config.New(), "")
	require.NoError(t, err)
	assert.Equal(t, 0.25, c.MaxPatchRatio)
	assert.True(t, c.AllowLoaderInAnyDex)
}

func TestBindFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.StringSlice("loader", nil, "")
	fs.Int("workers", 0, "")
	fs.String("unrelated", "", "")
	require.NoError(t, fs.Parse([]string{"--loader", "com.app.Boot", "--loader", "com.app.loader.*", "--workers", "4"}))

	v := config.New()
	require.NoError(t, config.BindFlags(v, fs))
	c, err := config.Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"com.app.Boot", "com.app.loader.*"}, c.LoaderPatterns)
	assert.Equal(t, 4, c.Workers)

	opts := c.PatchOptions()
	assert.Equal(t, c.LoaderPatterns, opts.LoaderPatterns)
	assert.Equal(t, 4, opts.Workers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		c       config.Config
		wantErr bool
	}{
		{"ok", config.Config{MaxPatchRatio: 0.6}, false},
		{"negative workers", config.Config{MaxPatchRatio: 0.6, Workers: -1}, true},
		{"zero ratio", config.Config{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
