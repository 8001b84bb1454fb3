package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
)

// DexDark colors Dalvik listings: addresses gray, registers teal,
// literals pink, descriptors and strings gold.
var DexDark = styles.Register(chroma.MustNewStyle("dex-dark", chroma.StyleEntries{
	chroma.Text:       "#FFFFFF",
	chroma.Background: "bg:#1e1e1e",
	chroma.Comment:    "#6A9955",

	chroma.Keyword:       "#FFFFFF",
	chroma.KeywordPseudo: "#C586C0",
	chroma.KeywordType:   "#569CD6",
	chroma.NameVariable:  "#7C9C9D",
	chroma.NameClass:     "#DCDCAA",
	chroma.NameLabel:     "#4F4F4F",

	chroma.LiteralNumber:        "#FF5F87",
	chroma.LiteralNumberHex:     "#FF5F87",
	chroma.LiteralNumberInteger: "#FF5F87",

	chroma.Operator:    "#FFFFFF",
	chroma.Punctuation: "#FFFFFF",

	chroma.String: "#EACD53",

	chroma.GenericInserted:   "#6A9955",
	chroma.GenericDeleted:    "#F44747",
	chroma.GenericSubheading: "#569CD6",
	chroma.GenericHeading:    "bold #FFFFFF",
}))
