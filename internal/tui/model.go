package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"etymdef/internal/service"
)

// QueryPort is the TUI-facing subset of the pipeline.
type QueryPort interface {
	Query(ctx context.Context, word, etymology string, k int) (*service.Entry, error)
}

// Model is the Bubble Tea model for browsing report entries and running
// ad-hoc queries.
type Model struct {
	service  QueryPort
	k        int
	input    textinput.Model
	viewport viewport.Model
	entries  []service.Entry
	summary  string
	status   string
	cursor   int
	ready    bool
}

// New creates a TUI model over the report of a finished run.
func New(svc QueryPort, rep *service.Report, k int) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "word [etymology...] and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)

	m := Model{service: svc, k: k, input: ti, viewport: vp, status: "Up/Down to browse, Enter to query."}
	if rep != nil {
		m.entries = append(m.entries, rep.Entries...)
		m.summary = fmt.Sprintf("run %s  held-out mse %.4f  cosine %.4f  (%d words shown)",
			rep.RunID, rep.Evaluation.MSE, rep.Evaluation.Cosine, len(rep.Entries))
	}
	return m
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		totalHeaderLines := 2                                    // header + summary
		totalFooterLines := 1                                    // status
		reserved := totalHeaderLines + totalFooterLines + qh + 1 // 1 spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderCurrentEntry())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			word, etym := splitQuery(m.input.Value())
			if word != "" {
				e, err := m.service.Query(context.Background(), word, etym, m.k)
				if err != nil {
					m.status = "Error: " + err.Error()
				} else {
					m.entries = append([]service.Entry{*e}, m.entries...)
					m.cursor = 0
					m.status = fmt.Sprintf("Nearest definitions for %q", word)
					m.input.SetValue("")
				}
				m.viewport.SetContent(m.renderCurrentEntry())
				return m, nil
			}
		case "down":
			if len(m.entries) > 0 {
				m.cursor = (m.cursor + 1) % len(m.entries)
				m.viewport.SetContent(m.renderCurrentEntry())
				return m, nil
			}
		case "up":
			if len(m.entries) > 0 {
				m.cursor = (m.cursor - 1 + len(m.entries)) % len(m.entries)
				m.viewport.SetContent(m.renderCurrentEntry())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the TUI layout and current entry.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("etymdef")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

// renderCurrentEntry shows the selected word. A neighbour that is the word's
// own definition row is highlighted.
func (m Model) renderCurrentEntry() string {
	if len(m.entries) == 0 {
		return "No entries yet."
	}
	e := m.entries[m.cursor]
	var b strings.Builder
	fmt.Fprintf(&b, "Entry %d/%d  %s", m.cursor+1, len(m.entries), wordStyle.Render(e.Word))
	if e.Etymology != "" {
		fmt.Fprintf(&b, "  (%s)", e.Etymology)
	}
	b.WriteString("\n\n")
	if e.HasReference {
		fmt.Fprintf(&b, "held-out similarity %.3f\ntrue: %s\n", e.HeldOutSimilarity, e.Definition)
	}
	if e.Gloss != "" {
		fmt.Fprintf(&b, "gloss: %s\n", e.Gloss)
	}
	b.WriteString("\n")
	for i, n := range e.Neighbors {
		line := fmt.Sprintf("%d. score=%.3f  %s: %s", i+1, n.Similarity, n.Word, n.Definition)
		if e.HasReference && n.Row == e.Row {
			line = highlightStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	wordStyle      = lipgloss.NewStyle().Bold(true)
)

// splitQuery reads "word etymology..." input.
func splitQuery(s string) (word, etymology string) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}
