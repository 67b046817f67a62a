// Package ui provides terminal styling for taskmirror's human-readable
// output. Styling degrades to plain text when stdout is not a terminal.
package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // green
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14")) // cyan
	dimStyle    = lipgloss.NewStyle().Faint(true)
	headerStyle = lipgloss.NewStyle().Bold(true)
)

// IsTerminal reports whether stdout is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Width returns the terminal width, or 80 when stdout is not a terminal.
func Width() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

func render(style lipgloss.Style, s string) string {
	if !IsTerminal() {
		return s
	}
	return style.Render(s)
}

// RenderPass styles a success marker.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderFail styles a failure marker.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderWarn styles a warning marker.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderAccent styles an informational highlight.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderDim styles secondary detail.
func RenderDim(s string) string { return render(dimStyle, s) }

// RenderHeader styles a section header.
func RenderHeader(s string) string { return render(headerStyle, s) }

// CountLine formats a "label: n" report line, highlighting nonzero counts
// that warrant attention.
func CountLine(label string, n int, bad bool) string {
	value := fmt.Sprintf("%d", n)
	switch {
	case n == 0:
		value = RenderDim(value)
	case bad:
		value = RenderWarn(value)
	default:
		value = RenderAccent(value)
	}
	return fmt.Sprintf("   %s: %s", label, value)
}

// Rule renders a horizontal divider sized to the terminal, capped at 60
// columns to keep reports compact on wide terminals.
func Rule() string {
	w := Width()
	if w > 60 {
		w = 60
	}
	return RenderDim(strings.Repeat("─", w))
}
