package styles

import (
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/x/exp/charmtone"
)

// MarkdownRenderer renders the markdown diff report: one title, a second
// level heading per class group and a bullet per descriptor.
func MarkdownRenderer(width int) (*glamour.TermRenderer, error) {
	return glamour.NewTermRenderer(
		glamour.WithStyles(reportMarkdown()),
		glamour.WithWordWrap(width),
	)
}

func reportMarkdown() ansi.StyleConfig {
	color := func(c charmtone.Key) *string {
		hex := c.Hex()
		return &hex
	}
	yes := true
	margin := uint(1)

	return ansi.StyleConfig{
		Document: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{Color: color(charmtone.Ash)},
			Margin:         &margin,
		},
		Heading: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{BlockSuffix: "\n", Bold: &yes},
		},
		// old → new
		H1: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{Color: color(charmtone.Malibu)},
		},
		// Added (n), Deleted (n), Changed (n)
		H2: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{Prefix: "▌ ", Color: color(charmtone.Squid)},
		},
		List: ansi.StyleList{LevelIndent: 2},
		Item: ansi.StylePrimitive{BlockPrefix: "· "},
		// descriptors
		Code: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{Color: color(charmtone.Julep)},
		},
		// _none_
		Emph: ansi.StylePrimitive{Italic: &yes, Color: color(charmtone.Oyster)},
	}
}
