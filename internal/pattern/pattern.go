// Package pattern converts dotted class-name globs such as
// "com.app.loader.*" into regular expressions over type descriptors.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

var primitives = map[string]string{
	"void":    "V",
	"boolean": "Z",
	"byte":    "B",
	"short":   "S",
	"char":    "C",
	"int":     "I",
	"long":    "J",
	"float":   "F",
	"double":  "D",
}

// ToDescriptorRegexp converts a class-name glob to an anchored regular
// expression over descriptors. "*" matches any run of characters and "?"
// at most one. A pattern that is already a descriptor ("Lfoo/Bar;" or an
// array "[I") is only escaped.
func ToDescriptorRegexp(p string) string {
	var desc string
	if (strings.HasPrefix(p, "L") && strings.HasSuffix(p, ";")) || strings.HasPrefix(p, "[") {
		desc = strings.ReplaceAll(p, ".", "/")
	} else {
		dims := 0
		for strings.HasSuffix(p, "[]") {
			p = strings.TrimSuffix(p, "[]")
			dims++
		}
		if prim, ok := primitives[p]; ok {
			desc = prim
		} else {
			desc = "L" + strings.ReplaceAll(p, ".", "/") + ";"
		}
		desc = strings.Repeat("[", dims) + desc
	}

	var sb strings.Builder
	sb.WriteByte('^')
	for _, r := range desc {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".?")
		case '[', '$', '(', ')', '+', '{', '}', '|', '^', '\\':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('$')
	return sb.String()
}

// Set is a compiled list of class-name globs.
type Set struct {
	raw []string
	res []*regexp.Regexp
}

// Compile compiles every pattern. Blank entries are skipped.
func Compile(patterns []string) (*Set, error) {
	s := &Set{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile(ToDescriptorRegexp(p))
		if err != nil {
			return nil, fmt.Errorf("bad class pattern %q: %w", p, err)
		}
		s.raw = append(s.raw, p)
		s.res = append(s.res, re)
	}
	return s, nil
}

// MustCompile is Compile for patterns known to be valid.
func MustCompile(patterns ...string) *Set {
	s, err := Compile(patterns)
	if err != nil {
		panic(err)
	}
	return s
}

// Match reports whether desc matches any pattern. A nil or empty set
// matches nothing.
func (s *Set) Match(desc string) bool {
	if s == nil {
		return false
	}
	for _, re := range s.res {
		if re.MatchString(desc) {
			return true
		}
	}
	return false
}

// Empty reports whether the set has no patterns.
func (s *Set) Empty() bool { return s == nil || len(s.res) == 0 }

// Patterns returns the source globs.
func (s *Set) Patterns() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.raw...)
}
