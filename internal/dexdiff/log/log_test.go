package log

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupAndRecover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dexdiff.log")
	Setup(path, true)
	require.True(t, Initialized())
	assert.True(t, slog.Default().Enabled(t.Context(), slog.LevelDebug))

	cleaned := false
	func() {
		defer RecoverPanic("worker", func() { cleaned = true })
		panic("boom")
	}()
	assert.True(t, cleaned)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Panic in worker")
	assert.Contains(t, string(data), "boom")
}

func TestRecoverPanicWithoutPanic(t *testing.T) {
	called := false
	func() {
		defer RecoverPanic("idle", func() { called = true })
	}()
	assert.False(t, called)
}
