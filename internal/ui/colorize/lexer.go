package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
)

// Dalvik tokenizes the listings produced by the dalvik package.
var Dalvik = lexers.Register(chroma.MustNewLexer(
	&chroma.Config{
		Name:      "Dalvik",
		Aliases:   []string{"dalvik", "smali"},
		Filenames: []string{"*.smali"},
	},
	func() chroma.Rules {
		return chroma.Rules{
			"root": {
				{`\n`, chroma.Text, nil},
				{`[ \t]+`, chroma.Text, nil},
				{`[0-9a-f]{4,8}:`, chroma.NameLabel, nil},
				{`#.*`, chroma.Comment, nil},
				{`\.[a-z][a-z-]*`, chroma.KeywordPseudo, nil},
				{`"(\\\\|\\"|[^"\n])*"`, chroma.String, nil},
				{`\[*L[^;\s]+;`, chroma.NameClass, nil},
				{`\[*[VZBSCIJFD](?=[\s,)\]]|$)`, chroma.KeywordType, nil},
				{`\b[vp][0-9]+\b`, chroma.NameVariable, nil},
				{`-?0x[0-9a-fA-F]+`, chroma.LiteralNumberHex, nil},
				{`-?[0-9]+\b`, chroma.LiteralNumberInteger, nil},
				{`->|[{}(),:\[\]@]`, chroma.Punctuation, nil},
				{`[A-Za-z_<$][\w<>$/-]*`, chroma.Keyword, nil},
				{`.`, chroma.Text, nil},
			},
		}
	},
))
