package report

import (
	"fmt"
	"io"
	"strings"

	"roster-scan/internal/diag"

	"github.com/charmbracelet/lipgloss"
)

// Outcome is one document line of a batch summary.
type Outcome struct {
	Document string
	Output   string // written report, empty when nothing was written
	Days     int
	Err      error
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#32A852"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#7F848E"))
	boxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).Padding(0, 1)
)

func severityStyle(kind diag.Kind) lipgloss.Style {
	switch kind.Severity() {
	case "error":
		return errorStyle
	case "warning":
		return warningStyle
	default:
		return mutedStyle
	}
}

// Summary writes a human-readable batch summary: one line per document followed
// by a count per diagnostic kind and the diagnostics themselves.
func Summary(w io.Writer, outcomes []Outcome, items []diag.Diagnostic) error {
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%d document(s), %d failed, %d diagnostic(s)", len(outcomes), failed, len(items))))
	b.WriteString("\n")
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			b.WriteString(errorStyle.Render("✗ " + o.Document))
			b.WriteString(" " + o.Err.Error())
		case o.Output != "":
			b.WriteString(okStyle.Render("✓ " + o.Document))
			b.WriteString(mutedStyle.Render(fmt.Sprintf(" %d day(s) -> %s", o.Days, o.Output)))
		default:
			b.WriteString(okStyle.Render("✓ " + o.Document))
			b.WriteString(mutedStyle.Render(fmt.Sprintf(" %d day(s)", o.Days)))
		}
		b.WriteString("\n")
	}

	if len(items) > 0 {
		counts := make(map[diag.Kind]int)
		for _, d := range items {
			counts[d.Kind]++
		}
		var lines []string
		for k := diag.KindStructureMismatch; k <= diag.KindDocumentFailed; k++ {
			if counts[k] > 0 {
				lines = append(lines, severityStyle(k).Render(fmt.Sprintf("%-20s %d", k, counts[k])))
			}
		}
		b.WriteString(boxStyle.Render(strings.Join(lines, "\n")))
		b.WriteString("\n")
		for _, d := range items {
			b.WriteString(severityStyle(d.Kind).Render(d.String()))
			b.WriteString("\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
