// Package report renders pipeline results as plain terminal text.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"etymdef/internal/service"
)

// Printer formats reports with styles bound to one output.
type Printer struct {
	out     io.Writer
	title   lipgloss.Style
	faint   lipgloss.Style
	word    lipgloss.Style
	score   lipgloss.Style
	gloss   lipgloss.Style
	maxLine int
}

// NewPrinter creates a Printer whose colour support follows w.
func NewPrinter(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		out:     w,
		title:   r.NewStyle().Bold(true),
		faint:   r.NewStyle().Foreground(lipgloss.Color("8")),
		word:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		score:   r.NewStyle().Foreground(lipgloss.Color("10")),
		gloss:   r.NewStyle().Foreground(lipgloss.Color("11")),
		maxLine: 100,
	}
}

// Write renders the whole report to the printer's output.
func (p *Printer) Write(rep *service.Report) error {
	_, err := io.WriteString(p.out, p.Format(rep))
	return err
}

// Format renders the whole report.
func (p *Printer) Format(rep *service.Report) string {
	var b strings.Builder
	origin := "trained"
	if rep.Loaded {
		origin = "loaded"
	}
	fmt.Fprintf(&b, "%s  %s\n", p.title.Render("etymdef report"), p.faint.Render(fmt.Sprintf("run %s (%s)", rep.RunID, origin)))
	fmt.Fprintf(&b, "encoder %s  dim %d  rows %d  train %d rows / %d words  test %d rows / %d words\n",
		rep.Encoder, rep.EmbeddedDim, rep.Rows, rep.TrainRows, rep.TrainWords, rep.TestRows, rep.TestWords)
	fmt.Fprintf(&b, "held-out  mse %.4f  cosine %.4f  loss %.4f  (%d examples)\n\n",
		rep.Evaluation.MSE, rep.Evaluation.Cosine, rep.Evaluation.Loss, rep.Evaluation.Examples)
	if len(rep.Entries) == 0 {
		b.WriteString("no held-out words to report\n")
		return b.String()
	}
	for i, e := range rep.Entries {
		fmt.Fprintf(&b, "%2d. %s\n", i+1, p.FormatEntry(e))
	}
	return b.String()
}

// FormatEntry renders one word with its neighbours.
func (p *Printer) FormatEntry(e service.Entry) string {
	var b strings.Builder
	b.WriteString(p.word.Render(e.Word))
	if e.Etymology != "" {
		b.WriteString("  " + p.faint.Render("("+p.clip(e.Etymology)+")"))
	}
	if e.HasReference {
		fmt.Fprintf(&b, "  similarity %s", p.score.Render(fmt.Sprintf("%.4f", e.HeldOutSimilarity)))
	}
	b.WriteString("\n")
	if e.HasReference {
		fmt.Fprintf(&b, "    true:  %s\n", p.clip(e.Definition))
	}
	if e.Gloss != "" {
		fmt.Fprintf(&b, "    gloss: %s\n", p.gloss.Render(p.clip(e.Gloss)))
	}
	for j, n := range e.Neighbors {
		fmt.Fprintf(&b, "    %d. %s  %s: %s\n", j+1, p.score.Render(fmt.Sprintf("%.4f", n.Similarity)), n.Word, p.clip(n.Definition))
	}
	return b.String()
}

func (p *Printer) clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if p.maxLine > 0 && len(r) > p.maxLine {
		return string(r[:p.maxLine-1]) + "…"
	}
	return s
}
