// Package colorize highlights Dalvik listings and unified diffs for the
// terminal with chroma.
package colorize

import (
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Disabled reports whether DEXDIFF_NO_COLOR or NO_COLOR is set.
func Disabled() bool {
	return os.Getenv("DEXDIFF_NO_COLOR") != "" || os.Getenv("NO_COLOR") != ""
}

// getStyle returns the listing style with fallbacks
func getStyle() *chroma.Style {
	for _, name := range []string{"dex-dark", "dracula", "monokai"} {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

// getTerminalFormatter returns an appropriate terminal formatter
func getTerminalFormatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

func highlight(lexer chroma.Lexer, code string) (string, error) {
	if Disabled() || lexer == nil {
		return code, nil
	}
	iterator, err := chroma.Coalesce(lexer).Tokenise(nil, code)
	if err != nil {
		return code, err
	}
	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getStyle(), iterator); err != nil {
		return code, err
	}
	return buf.String(), nil
}

// Listing highlights a class disassembly.
func Listing(code string) (string, error) {
	return highlight(Dalvik, code)
}

// Diff highlights a unified diff.
func Diff(diff string) (string, error) {
	return highlight(lexers.Get("diff"), diff)
}

// StripANSI removes ANSI escape sequences.
func StripANSI(s string) string {
	var result strings.Builder
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEscape = true
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		default:
			result.WriteRune(r)
		}
	}
	return result.String()
}
