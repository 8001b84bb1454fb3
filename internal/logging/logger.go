// Package logging builds the report logger shared by diff, check and patch.
// Its level, prefix and destination come from DEXDIFF_LOG_* variables.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const defaultPrefix = "dexdiff "

var levels = map[string]log.Level{
	"debug": log.DebugLevel,
	"info":  log.InfoLevel,
	"warn":  log.WarnLevel,
	"error": log.ErrorLevel,
}

// ParseLevel maps a level name to a level. Unknown names mean info.
func ParseLevel(s string) log.Level {
	if l, ok := levels[strings.ToLower(strings.TrimSpace(s))]; ok {
		return l
	}
	return log.InfoLevel
}

// Env is the logger setup read from the environment.
type Env struct {
	Level  log.Level
	Prefix string
	// ToFile sends reports to a timestamped file instead of the command's
	// error stream.
	ToFile bool
}

// EnvFromOS reads DEXDIFF_LOG_LEVEL, DEXDIFF_LOG_PREFIX and
// DEXDIFF_LOG_TO_FILE.
func EnvFromOS() Env {
	e := Env{
		Level:  ParseLevel(os.Getenv("DEXDIFF_LOG_LEVEL")),
		Prefix: os.Getenv("DEXDIFF_LOG_PREFIX"),
		ToFile: os.Getenv("DEXDIFF_LOG_TO_FILE") == "1",
	}
	if e.Prefix == "" {
		e.Prefix = defaultPrefix
	}
	return e
}

// Logger is a report logger. Close releases the log file when the logger
// opened one and is a no-op otherwise.
type Logger struct {
	*log.Logger
	file *os.File
}

func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	return f.Close()
}

// New logs to w, which stays owned by the caller.
func New(w io.Writer, e Env) *Logger {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Level:           e.Level,
		Prefix:          strings.TrimSpace(e.Prefix),
	})
	return &Logger{Logger: lg}
}

// Open is New, except that with e.ToFile set it appends to
// dexdiff-<timestamp>.log in dir and falls back to w on failure.
func Open(dir string, e Env, w io.Writer) *Logger {
	if !e.ToFile {
		return New(w, e)
	}
	name := filepath.Join(dir, fmt.Sprintf("dexdiff-%s.log", time.Now().Format("20060102-150405")))
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		l := New(w, e)
		l.Warn("cannot open log file, using stderr", "path", name, "err", err)
		return l
	}
	l := New(f, e)
	l.file = f
	return l
}
