// Package styles holds the terminal presentation of dexdiff reports.
package styles

import (
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/exp/charmtone"
)

// Report styles the lines of diff, check and patch output.
type Report struct {
	Title   lipgloss.Style
	Added   lipgloss.Style
	Deleted lipgloss.Style
	Changed lipgloss.Style
	Muted   lipgloss.Style
	Key     lipgloss.Style
	Error   lipgloss.Style
}

// NewReport returns colored styles, or unstyled ones when color is false.
func NewReport(color bool) Report {
	if !color {
		plain := lipgloss.NewStyle()
		return Report{plain, plain, plain, plain, plain, plain, plain}
	}
	fg := func(k charmtone.Key) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(k.Hex()))
	}
	return Report{
		Title:   fg(charmtone.Malibu).Bold(true),
		Added:   fg(charmtone.Guac),
		Deleted: fg(charmtone.Coral),
		Changed: fg(charmtone.Zest),
		Muted:   fg(charmtone.Squid),
		Key:     fg(charmtone.Charple).Bold(true),
		Error:   fg(charmtone.Sriracha).Bold(true),
	}
}

// Marker is the one-character prefix and style for a class status.
func (r Report) Marker(status string) (string, lipgloss.Style) {
	switch status {
	case "added":
		return "+", r.Added
	case "deleted":
		return "-", r.Deleted
	case "changed":
		return "~", r.Changed
	}
	return " ", r.Muted
}
