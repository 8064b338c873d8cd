// Package cli renders run results and ledger rows for the terminal.
package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Catppuccin Mocha
const (
	colorGreen    lipgloss.Color = "#a6e3a1"
	colorRed      lipgloss.Color = "#f38ba8"
	colorYellow   lipgloss.Color = "#f9e2af"
	colorPink     lipgloss.Color = "#f5c2e7"
	colorText     lipgloss.Color = "#cdd6f4"
	colorOverlay1 lipgloss.Color = "#7f849c"
	colorSurface2 lipgloss.Color = "#585b70"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorPink)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPink)
	valueStyle  = lipgloss.NewStyle().Foreground(colorText)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorOverlay1)
	borderStyle = lipgloss.NewStyle().Foreground(colorSurface2)
	okStyle     = lipgloss.NewStyle().Foreground(colorGreen)
	warnStyle   = lipgloss.NewStyle().Foreground(colorYellow)
	errStyle    = lipgloss.NewStyle().Foreground(colorRed)
)

// Table is a bordered text table. The first column is left aligned and the
// rest are right aligned unless LeftAlign marks them.
type Table struct {
	Title     string
	Headers   []string
	Rows      [][]string
	LeftAlign map[int]bool
}

// RenderTitle renders a title in a rounded box.
func RenderTitle(title string) string {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorSurface2).
		Padding(0, 1)
	return box.Render(titleStyle.Render(title))
}

func (t Table) widths() []int {
	n := len(t.Headers)
	for _, row := range t.Rows {
		if len(row) > n {
			n = len(row)
		}
	}
	widths := make([]int, n)
	for i, h := range t.Headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	return widths
}

func rule(widths []int, left, mid, right string) string {
	parts := make([]string, len(widths))
	for i, w := range widths {
		parts[i] = strings.Repeat("─", w+2)
	}
	return borderStyle.Render(left+strings.Join(parts, mid)+right) + "\n"
}

func pad(cell string, w int, left bool) string {
	gap := w - lipgloss.Width(cell)
	if gap < 0 {
		gap = 0
	}
	if left {
		return " " + cell + strings.Repeat(" ", gap) + " "
	}
	return " " + strings.Repeat(" ", gap) + cell + " "
}

// RenderTable renders t. An empty table renders nothing.
func RenderTable(t Table) string {
	if len(t.Rows) == 0 && len(t.Headers) == 0 {
		return ""
	}
	widths := t.widths()
	sep := borderStyle.Render("│")

	var b strings.Builder
	if t.Title != "" {
		b.WriteString("  " + headerStyle.Render(t.Title) + "\n")
	}
	b.WriteString(rule(widths, "╭", "┬", "╮"))
	if len(t.Headers) > 0 {
		b.WriteString(sep)
		for i, w := range widths {
			h := ""
			if i < len(t.Headers) {
				h = t.Headers[i]
			}
			b.WriteString(headerStyle.Render(pad(h, w, true)) + sep)
		}
		b.WriteString("\n")
		b.WriteString(rule(widths, "├", "┼", "┤"))
	}
	for _, row := range t.Rows {
		b.WriteString(sep)
		for i, w := range widths {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			b.WriteString(valueStyle.Render(pad(cell, w, i == 0 || t.LeftAlign[i])) + sep)
		}
		b.WriteString("\n")
	}
	b.WriteString(rule(widths, "╰", "┴", "╯"))
	return b.String()
}

// Status colours a ledger or unit status.
func Status(s string) string {
	switch s {
	case "sent":
		return okStyle.Render(s)
	case "failed", "error":
		return errStyle.Render(s)
	case "claimed", "deduped", "not-run":
		return warnStyle.Render(s)
	}
	return mutedStyle.Render(s)
}

// Muted renders secondary text.
func Muted(s string) string { return mutedStyle.Render(s) }

// KeyValues renders aligned "key  value" lines.
func KeyValues(pairs [][2]string) string {
	w := 0
	for _, p := range pairs {
		if len(p[0]) > w {
			w = len(p[0])
		}
	}
	var b strings.Builder
	for _, p := range pairs {
		fmt.Fprintf(&b, "  %s  %s\n", mutedStyle.Render(fmt.Sprintf("%-*s", w, p[0])), valueStyle.Render(p[1]))
	}
	return b.String()
}
