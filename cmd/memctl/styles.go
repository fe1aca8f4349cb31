package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	// Color palette
	primaryColor = lipgloss.Color("#7D56F4")
	successColor = lipgloss.Color("#04B575")
	errorColor   = lipgloss.Color("#FF4B4B")
	mutedColor   = lipgloss.Color("#666666")
	borderColor  = lipgloss.Color("#383838")
)

// styles groups the report styles; plain when --no-color is set.
type styles struct {
	header lipgloss.Style
	label  lipgloss.Style
	value  lipgloss.Style
	ok     lipgloss.Style
	fail   lipgloss.Style
	box    lipgloss.Style
}

func newStyles(plain bool) styles {
	if plain {
		s := lipgloss.NewStyle()
		return styles{header: s, label: s, value: s, ok: s, fail: s, box: s}
	}
	return styles{
		header: lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1),
		label: lipgloss.NewStyle().
			Foreground(mutedColor),
		value: lipgloss.NewStyle().
			Bold(true),
		ok: lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true),
		fail: lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1),
	}
}

// row is one label/value line of a report section.
type row struct {
	label string
	value string
}

// section is a titled group of rows.
type section struct {
	title string
	rows  []row
}

// renderReport prints sections as aligned label/value blocks, followed by a
// pass/fail verdict.
func renderReport(title string, sections []section, passed bool) {
	st := newStyles(noColor)

	width := 0
	for _, sec := range sections {
		for _, r := range sec.rows {
			width = max(width, len(r.label))
		}
	}

	var blocks []string
	for _, sec := range sections {
		var b strings.Builder
		b.WriteString(st.header.Render(sec.title))
		b.WriteString("\n")
		for _, r := range sec.rows {
			label := st.label.Render(fmt.Sprintf("%-*s", width, r.label))
			fmt.Fprintf(&b, "%s  %s\n", label, st.value.Render(r.value))
		}
		blocks = append(blocks, st.box.Render(strings.TrimRight(b.String(), "\n")))
	}

	verdict := st.ok.Render("PASS")
	if !passed {
		verdict = st.fail.Render("FAIL")
	}

	fmt.Fprintln(os.Stdout, st.header.Render(title))
	fmt.Fprintln(os.Stdout, lipgloss.JoinVertical(lipgloss.Left, blocks...))
	fmt.Fprintf(os.Stdout, "%s\n", verdict)
}

// formatBytes renders n with a binary unit.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit && n > -unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit || m <= -unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
